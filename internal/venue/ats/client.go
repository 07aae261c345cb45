package ats

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/session"
	sdkhttp "github.com/betbot/circuitbot/pkg/sdk/http"
)

var (
	// ErrUnavailable 报价不可用（非 2xx、找不到 tradeprice、价格 ≤ 0）
	ErrUnavailable = errors.New("ats: quote unavailable")
	// ErrUnauthorized 服务端拒绝了会话
	ErrUnauthorized = errors.New("ats: unauthorized")
)

// OrderSubmitted 场所确认受理的 description
const OrderSubmitted = "javascriptOrderSuccessesFullySubmitted"

const (
	watchPath = "/atsweb/watch"
	orderPath = "/atsweb/order"
	homePath  = "/atsweb/home?action=showHome&format=html&reqid="
)

var tradePriceRe = regexp.MustCompile(`['"]tradeprice['"]\s*:\s*['"]([^'"]+)['"]`)

// Client ATS web 接口
type Client struct {
	s   *session.Session
	now func() time.Time
}

func NewClient(s *session.Session) *Client {
	return &Client{s: s, now: time.Now}
}

func (c *Client) stamp() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"x-requested-with": "XMLHttpRequest",
		"Referer":          c.s.HTTP.Host() + homePath + c.stamp(),
	}
}

// Quote 查询最新成交价
func (c *Client) Quote(ctx context.Context, symbol string) (float64, error) {
	resp, err := c.s.HTTP.DoRequest(ctx, http.MethodGet, watchPath, &sdkhttp.RequestOptions{
		Headers: c.headers(),
		Params: map[string]any{
			"action":            "getWatchForSecurity",
			"format":            "json",
			"securityid":        symbol,
			"exchange":          "NEPSE",
			"bookDefId":         "1",
			"dojo.preventCache": c.stamp(),
		},
	}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "ats watch")
	}
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return 0, ErrUnauthorized
	}
	if !resp.IsSuccess() {
		return 0, errors.Wrapf(ErrUnavailable, "http %d", resp.StatusCode())
	}

	m := tradePriceRe.FindSubmatch(resp.Body())
	if m == nil {
		return 0, errors.Wrap(ErrUnavailable, "no tradeprice")
	}
	price, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil || price <= 0 {
		return 0, errors.Wrapf(ErrUnavailable, "tradeprice %q", m[1])
	}
	return price, nil
}

type orderResponse struct {
	Description string `json:"description"`
}

// PlaceOrder 提交限价买单，返回场所的 description
func (c *Client) PlaceOrder(ctx context.Context, account domain.Account, symbol string, price float64, qty int) (string, error) {
	var out orderResponse
	resp, err := c.s.HTTP.DoRequest(ctx, http.MethodPost, orderPath, &sdkhttp.RequestOptions{
		Headers:  c.headers(),
		FormData: orderForm(account, symbol, price, qty),
	}, nil)
	if herr := sdkhttp.ParseHTTPError(resp, err); herr != nil {
		return "", herr
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", errors.Wrap(err, "ats order decode")
	}
	return out.Description, nil
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func orderForm(a domain.Account, symbol string, price float64, qty int) map[string]string {
	p := formatPrice(price)
	return map[string]string{
		"action":           "submitOrder",
		"market":           "NEPSE",
		"broker":           a.Broker,
		"format":           "json",
		"brokerClient":     "1",
		"orderStatus":      "Open",
		"acntid":           a.AcntID,
		"marketPrice":      p,
		"duplicateOrderId": "Order_" + symbol + "_" + uuid.NewString(),
		"clientAcc":        a.ClientAcc,
		"assetSelect":      "1",
		"actionSelect":     "1",
		"txtSecurity":      symbol,
		"cmbTypeOfOrder":   "1",
		"spnQuantity":      strconv.Itoa(qty),
		"spnPrice":         p,
		"cmbTif":           "16",
		"cmbTifDays":       "1",
		"cmbBoard":         "1",
		"hiddenSpnCseFee":  "0.02",
		"brokerClientVal":  "1",
		"product":          "web",
		"confirm":          "1",
	}
}
