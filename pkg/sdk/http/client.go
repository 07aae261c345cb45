package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Options 客户端选项
// 下单请求不能被 transport 自动重试（会导致重复下单），因此 RetryCount 默认为 0
type Options struct {
	Timeout    time.Duration
	RetryCount int
	UserAgent  string
	Headers    map[string]string
	Cookies    []*http.Cookie
}

type Client struct {
	client *resty.Client
	host   string
}

func NewClient(host string, opts Options) *Client {
	host = strings.TrimSuffix(host, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("User-Agent", opts.UserAgent).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 2 * time.Second, nil
			}
			return 0, nil
		})

	if jar, err := cookiejar.New(nil); err == nil {
		client.SetCookieJar(jar)
	}
	if len(opts.Cookies) > 0 {
		client.SetCookies(opts.Cookies)
	}
	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}

	return &Client{client: client, host: host}
}

// Host 返回客户端绑定的 origin
func (c *Client) Host() string { return c.host }

// SetHeader 设置 client 级 Header（例如刷新后的 token）
func (c *Client) SetHeader(k, v string) {
	c.client.SetHeader(k, v)
}

// RemoveHeader 删除 client 级 Header
func (c *Client) RemoveHeader(k string) {
	c.client.Header.Del(k)
}

// Cookie 从 cookie jar 中取出 origin 下的 cookie
func (c *Client) Cookie(name string) (string, bool) {
	jar := c.client.GetClient().Jar
	if jar == nil {
		return "", false
	}
	u, err := url.Parse(c.host + "/")
	if err != nil {
		return "", false
	}
	for _, ck := range jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	for _, ck := range c.client.Cookies {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}

type RequestOptions struct {
	Headers  map[string]string
	Data     any               // JSON body
	FormData map[string]string // application/x-www-form-urlencoded body
	Params   map[string]any
}

// 仅设置本次请求的默认 Header（不要再改 client 级 Header）
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json, text/plain, */*")
	return r
}

func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
		switch {
		case opt.FormData != nil:
			rc.SetFormData(opt.FormData)
		case opt.Data != nil:
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Data)
		}
	}
	if out != nil {
		rc.SetResult(out)
	}

	switch strings.ToUpper(method) {
	case http.MethodGet:
		return rc.Get(endpoint)
	case http.MethodPost:
		return rc.Post(endpoint)
	case http.MethodDelete:
		return rc.Delete(endpoint)
	case http.MethodPut:
		return rc.Put(endpoint)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// HTTPError 非 2xx 响应
type HTTPError struct {
	StatusCode int
	Status     string
	Body       any
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %v", e.StatusCode, e.Body)
}

// ParseHTTPError 把 transport 错误和非 2xx 响应统一成 error
func ParseHTTPError(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	if resp == nil {
		return errors.New("http: nil response")
	}
	if resp.IsSuccess() {
		return nil
	}
	var body any
	b := resp.Body()
	_ = json.Unmarshal(b, &body)
	if body == nil {
		body = string(b)
	}
	return errors.WithStack(&HTTPError{
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       body,
	})
}

// StatusCode 取出 HTTPError 的状态码，非 HTTPError 返回 0
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
