package futures_usdt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"execution-core/pkg/exchanges/common"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "k", APISecret: "s", BaseURL: srv.URL}, nil)
}

func TestSubmitOrderClosePositionOmitsQuantity(t *testing.T) {
	var form map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/order" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "k" {
			t.Errorf("missing api key header")
		}
		_ = r.ParseForm()
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Write([]byte(`{"orderId":42,"clientOrderId":"abc","status":"NEW"}`))
	})
	c.SetFilters("BTC/USDT", SymbolFilters{TickSize: 0.1, StepSize: 0.001})

	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol:        "BTC/USDT",
		Side:          common.SideSell,
		Type:          common.OrderTypeStopMarket,
		StopPrice:     49123.47,
		ClosePosition: true,
		WorkingType:   common.WorkingTypeMark,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.ExchangeOrderID != "42" || res.Status != common.StatusNew {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := form["quantity"]; ok {
		t.Fatalf("closePosition order must not carry quantity: %v", form)
	}
	want := map[string]string{
		"symbol":        "BTCUSDT",
		"side":          "SELL",
		"type":          "STOP_MARKET",
		"stopPrice":     "49123.5",
		"closePosition": "true",
		"workingType":   "MARK_PRICE",
	}
	for k, v := range want {
		if form[k] != v {
			t.Fatalf("%s=%q want %q", k, form[k], v)
		}
	}
	if form["signature"] == "" || form["timestamp"] == "" {
		t.Fatalf("request not signed: %v", form)
	}
}

func TestGetPositionsSkipsFlatAndSignsSide(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionSide":"BOTH","positionAmt":"0.010","entryPrice":"50000"},
			{"symbol":"ETHUSDT","positionSide":"BOTH","positionAmt":"-2","entryPrice":"3000"},
			{"symbol":"SOLUSDT","positionSide":"BOTH","positionAmt":"0","entryPrice":"0"}
		]`))
	})
	pos, err := c.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(pos) != 2 {
		t.Fatalf("got %d positions, want 2", len(pos))
	}
	if pos[0].Symbol != "BTC/USDT" || pos[0].Side != common.Long || pos[0].Contracts != 0.01 {
		t.Fatalf("unexpected long %+v", pos[0])
	}
	if pos[1].Symbol != "ETH/USDT" || pos[1].Side != common.Short || pos[1].Contracts != 2 {
		t.Fatalf("unexpected short %+v", pos[1])
	}
}

func TestIsNoChange(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-4046,"msg":"No need to change margin type."}`))
	})
	err := c.SetMarginType(context.Background(), "BTC/USDT", "isolated")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNoChange(err) {
		t.Fatalf("IsNoChange(%v)=false", err)
	}
	if IsNoChange(errors.New("boom")) {
		t.Fatal("plain error must not be a no-change")
	}
}

func TestSignedCallWithoutCredentials(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	if _, err := c.GetOpenOrders(context.Background(), ""); !errors.Is(err, ErrCredentials) {
		t.Fatalf("err=%v want ErrCredentials", err)
	}
}

func TestFundingRatesAndKlines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/premiumIndex":
			w.Write([]byte(`[{"symbol":"BTCUSDT","lastFundingRate":"0.0001"},{"symbol":"XRPUSDT","lastFundingRate":"-0.0002"}]`))
		case "/fapi/v1/klines":
			if r.URL.Query().Get("interval") != "15m" {
				t.Errorf("interval=%s", r.URL.Query().Get("interval"))
			}
			w.Write([]byte(`[[1700000000000,"1","2","0.5","1.5","100",1700000899999,"0",1,"0","0","0"]]`))
		default:
			http.NotFound(w, r)
		}
	})

	rates, err := c.FundingRates(context.Background())
	if err != nil {
		t.Fatalf("FundingRates: %v", err)
	}
	if rates["BTC/USDT"] != 0.0001 || rates["XRP/USDT"] != -0.0002 {
		t.Fatalf("unexpected rates %v", rates)
	}

	ks, err := c.Klines(context.Background(), "BTC/USDT", "15m", 1)
	if err != nil {
		t.Fatalf("Klines: %v", err)
	}
	if len(ks) != 1 || ks[0].OpenTime != 1700000000000 || ks[0].Close != 1.5 || ks[0].Volume != 100 {
		t.Fatalf("unexpected klines %+v", ks)
	}
}

func TestPrecisionHelpers(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"floor step", FloorToStep(0.123456, 0.001).String(), "0.123"},
		{"floor whole", FloorToStep(7.9, 1).String(), "7"},
		{"round tick up", RoundToTick(100.06, 0.1).String(), "100.1"},
		{"round tick down", RoundToTick(100.04, 0.1).String(), "100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("got %s want %s", tc.got, tc.want)
			}
		})
	}
}
