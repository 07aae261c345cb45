package tms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/betbot/circuitbot/internal/session"
	sdkhttp "github.com/betbot/circuitbot/pkg/sdk/http"
)

// ErrTokenExpired 接口返回 401，需要刷新 token
var ErrTokenExpired = errors.New("tms: token expired")

// ErrNotReady 接口返回了非 200 的业务状态（不是 transport 错误），稍后重试
var ErrNotReady = errors.New("tms: quote not ready")

const (
	ohlcPath    = "/tmsapi/rtApi/stock/validation/ohlc/%d/%s"
	orderPath   = "/tmsapi/orderApi/order/"
	refreshPath = "/tmsapi/authApi/authenticate/refresh"
	referral    = "/tms/me/memberclientorderentry"
)

// flexString 兼容 "200" 和 200 两种写法
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

// flexFloat 兼容数字和字符串形式的价格
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type ohlcResponse struct {
	Status flexString `json:"status"`
	Data   *struct {
		LTP flexFloat `json:"ltp"`
	} `json:"data"`
}

type refreshResponse struct {
	Status flexString `json:"status"`
	Data   *struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		XSRFToken    string `json:"xsrf_token"`
	} `json:"data"`
}

type orderResponse struct {
	Status  flexString `json:"status"`
	Message string     `json:"message"`
}

// Client NEPSE TMS 接口
type Client struct {
	s *session.Session
}

func NewClient(s *session.Session) *Client {
	return &Client{s: s}
}

// headers 构造认证头（XSRF token 和 Bearer token 有哪个带哪个）
func (c *Client) headers() map[string]string {
	m := c.s.Material()
	h := map[string]string{
		"Referer":         c.s.HTTP.Host() + referral,
		"host-session-id": m.HostSessionID(),
		"request-owner":   m.RequestOwner,
	}
	if m.MemberCode != "" {
		h["membercode"] = m.MemberCode
	}
	xsrf := m.XSRFToken
	if xsrf == "" {
		xsrf, _ = c.s.HTTP.Cookie("XSRF-TOKEN")
	}
	if xsrf != "" {
		h["x-xsrf-token"] = xsrf
	}
	if m.AccessToken != "" {
		h["Authorization"] = "Bearer " + m.AccessToken
	}
	return h
}

// LastTradedPrice 查询 LTP
// 业务状态 401 返回 ErrTokenExpired，其它非 200 状态返回 ErrNotReady
func (c *Client) LastTradedPrice(ctx context.Context, sec session.Security) (float64, error) {
	path := fmt.Sprintf(ohlcPath, sec.ID, sec.ISIN)
	resp, err := c.s.HTTP.DoRequest(ctx, http.MethodGet, path, &sdkhttp.RequestOptions{Headers: c.headers()}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "tms ohlc")
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return 0, ErrTokenExpired
	}
	if herr := sdkhttp.ParseHTTPError(resp, nil); herr != nil {
		return 0, herr
	}

	var out ohlcResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return 0, errors.Wrap(err, "tms ohlc decode")
	}
	switch out.Status {
	case "200":
	case "401":
		return 0, ErrTokenExpired
	default:
		return 0, errors.Wrapf(ErrNotReady, "status=%s", out.Status)
	}
	if out.Data == nil {
		return 0, errors.Wrap(ErrNotReady, "missing data")
	}
	return float64(out.Data.LTP), nil
}

// RefreshToken 刷新 access token，并回写会话材料
func (c *Client) RefreshToken(ctx context.Context) error {
	resp, err := c.s.HTTP.DoRequest(ctx, http.MethodPost, refreshPath, &sdkhttp.RequestOptions{Headers: c.headers()}, nil)
	if herr := sdkhttp.ParseHTTPError(resp, err); herr != nil {
		return herr
	}
	var out refreshResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return errors.Wrap(err, "tms refresh decode")
	}
	if out.Status != "200" || out.Data == nil || out.Data.AccessToken == "" {
		return errors.Errorf("tms refresh rejected: status=%s", out.Status)
	}
	return c.s.UpdateTokens(out.Data.AccessToken, out.Data.RefreshToken, out.Data.XSRFToken)
}

// PlaceOrder 提交限价买单，返回场所的业务状态（"200" 表示受理）
func (c *Client) PlaceOrder(ctx context.Context, sec session.Security, price float64, qty int) (string, error) {
	body := newOrderBody(sec, c.s.Material().Client, price, qty)
	resp, err := c.s.HTTP.DoRequest(ctx, http.MethodPost, orderPath, &sdkhttp.RequestOptions{
		Headers: c.headers(),
		Data:    body,
	}, nil)
	if err != nil {
		return "", errors.Wrap(err, "tms order")
	}

	var out orderResponse
	if jerr := json.Unmarshal(resp.Body(), &out); jerr != nil || out.Status == "" {
		// 非 JSON 响应时使用 HTTP 状态码
		return strconv.Itoa(resp.StatusCode()), nil
	}
	return string(out.Status), nil
}
