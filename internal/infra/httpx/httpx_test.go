package httpx

import "testing"

func TestNewCoverClient_NoProxyKeepsDefault(t *testing.T) {
	c, err := NewCoverClient("http://127.0.0.1:8080", false)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	if tr.Base.Proxy != nil {
		t.Fatalf("cover_proxy=false 时不应走代理")
	}
	if tr.Base.DisableKeepAlives {
		t.Fatalf("cover_proxy=false 时不应禁用 keep-alive")
	}
}

func TestNewCoverClient_ProxyDisablesKeepAlive(t *testing.T) {
	c, err := NewCoverClient("http://127.0.0.1:8080", true)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	if tr.Base.Proxy == nil {
		t.Fatalf("cover_proxy=true 时应走代理")
	}
	if !tr.Base.DisableKeepAlives {
		t.Fatalf("cover_proxy=true 时应禁用 keep-alive")
	}
	if !tr.DisableKeepAlives {
		t.Fatalf("期望设置 Request.Close=true 的额外保险，但 DisableKeepAlives=false")
	}
}

func TestNewCoverClient_ProxyRequiredWhenEnabled(t *testing.T) {
	_, err := NewCoverClient("", true)
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func TestNewCoverClient_InvalidProxyURL(t *testing.T) {
	_, err := NewCoverClient("http://[::1", true)
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}
