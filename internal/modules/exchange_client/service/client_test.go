package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fibo_bot/internal/models"
)

const testSecret = "s3cret"

type venue struct {
	t       *testing.T
	handler func(w http.ResponseWriter, r *http.Request, body map[string]any)
}

func (v *venue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v5/public/instruments" {
		_, _ = io.WriteString(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","tickSz":"0.1","lotSz":"1","minSz":"1","ctVal":"0.01","state":"live"}]}`)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	if key := r.Header.Get("OK-ACCESS-KEY"); key != "" {
		mac := hmac.New(sha256.New, []byte(testSecret))
		mac.Write([]byte(r.Header.Get("OK-ACCESS-TIMESTAMP") + r.Method + r.URL.RequestURI() + string(raw)))
		if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); r.Header.Get("OK-ACCESS-SIGN") != want {
			v.t.Errorf("bad signature for %s", r.URL.RequestURI())
		}
	}
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	v.handler(w, r, body)
}

func newTestClient(t *testing.T, h func(w http.ResponseWriter, r *http.Request, body map[string]any)) (*Client, *venue) {
	t.Helper()
	v := &venue{t: t, handler: h}
	srv := httptest.NewServer(v)
	t.Cleanup(srv.Close)
	c := NewClient(models.Credentials{APIKey: "k", APISecret: testSecret, Passphrase: "p"},
		Options{BaseURL: srv.URL, RatePerSec: 1000, Burst: 100, Timeout: 200 * time.Millisecond})
	return c, v
}

func TestPlaceOrder_SendsContractsAndClientID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if r.URL.Path != "/api/v5/trade/order" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if body["sz"] != "5" || body["clOrdId"] != "e1abc" || body["px"] != "100.5" {
			t.Errorf("body = %v", body)
		}
		if body["side"] != "buy" || body["posSide"] != "long" {
			t.Errorf("side = %v/%v", body["side"], body["posSide"])
		}
		if _, ok := body["reduceOnly"]; ok {
			t.Error("entry must not be reduce-only")
		}
		_, _ = io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"42","clOrdId":"e1abc","sCode":"0","sMsg":""}]}`)
	})

	st, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		ClientID: "e1abc", Symbol: "BTC", Side: models.SideLong, Type: models.OrderLimit, Price: 100.5, Qty: 0.05,
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.OrderID != "42" || st.State != models.OrderNew {
		t.Errorf("status = %+v", st)
	}
}

func TestPlaceOrder_ReduceOnlyClosesOppositeSide(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if body["side"] != "buy" || body["posSide"] != "short" || body["reduceOnly"] != true || body["ordType"] != "market" {
			t.Errorf("body = %v", body)
		}
		_, _ = io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"7","sCode":"0"}]}`)
	})
	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		ClientID: "s1abc", Symbol: "BTC", Side: models.SideShort, Type: models.OrderMarket, Qty: 0.02, ReduceOnly: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDo_ClassifiesErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		delay   time.Duration
		wantErr error
	}{
		{"rejected", 200, `{"code":"1","msg":"op failed","data":[{"sCode":"51008","sMsg":"insufficient margin"}]}`, 0, models.ErrVenueRejected},
		{"duplicate", 200, `{"code":"1","msg":"","data":[{"sCode":"51016","sMsg":"Duplicated clOrdId"}]}`, 0, models.ErrDuplicateOrder},
		{"busy", 200, `{"code":"50013","msg":"Systems are busy","data":[]}`, 0, models.ErrVenueTimeout},
		{"server error", 503, `oops`, 0, models.ErrVenueTimeout},
		{"slow", 200, `{"code":"0","data":[]}`, 400 * time.Millisecond, models.ErrVenueTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
				if tc.delay > 0 {
					time.Sleep(tc.delay)
				}
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
				ClientID: "x", Symbol: "BTC", Side: models.SideLong, Type: models.OrderMarket, Qty: 0.01,
			})
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		switch r.URL.Query().Get("clOrdId") {
		case "known":
			_, _ = io.WriteString(w, `{"code":"0","data":[{"ordId":"1","clOrdId":"known","state":"partially_filled","accFillSz":"3","avgPx":"101.2"}]}`)
		default:
			_, _ = io.WriteString(w, `{"code":"51603","msg":"Order does not exist","data":[]}`)
		}
	})

	st, err := c.GetOrder(context.Background(), "BTC", "known")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != models.OrderPartial || math.Abs(st.FilledQty-0.03) > 1e-12 || st.AvgPrice != 101.2 {
		t.Errorf("status = %+v", st)
	}

	if _, err := c.GetOrder(context.Background(), "BTC", "ghost"); !errors.Is(err, models.ErrOrderNotFound) {
		t.Errorf("want ErrOrderNotFound, got %v", err)
	}
}

func TestHistory_OldestFirstClosedOnly(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		if r.URL.Query().Get("bar") != "1H" {
			t.Errorf("bar = %s", r.URL.Query().Get("bar"))
		}
		_, _ = io.WriteString(w, `{"code":"0","data":[
			["1700007200000","3","4","2","3.5","10","0","0","0"],
			["1700003600000","2","3","1","3","10","0","0","1"],
			["1700000000000","1","2","0.5","2","10","0","0","1"]]}`)
	})

	cs, err := c.History(context.Background(), models.FeedKey{Symbol: "BTC", Timeframe: "1h"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 2 {
		t.Fatalf("got %d candles, want 2", len(cs))
	}
	if !cs[0].Start.Before(cs[1].Start) || !cs[1].Closed {
		t.Errorf("candles = %+v", cs)
	}
	if cs[1].End.Sub(cs[1].Start) != time.Hour {
		t.Errorf("end not filled: %v", cs[1].End)
	}
}

func TestBalance(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		_, _ = io.WriteString(w, `{"code":"0","data":[{"totalEq":"1234.5","details":[]}]}`)
	})
	bal, err := c.Balance(context.Background())
	if err != nil || bal != 1234.5 {
		t.Errorf("balance = %v, %v", bal, err)
	}
}

func TestFactory_RequiresCredentials(t *testing.T) {
	f := NewFactory(Options{})
	if _, err := f.ForUser(models.Credentials{}); !errors.Is(err, models.ErrVenueRejected) {
		t.Errorf("want rejection, got %v", err)
	}
}
