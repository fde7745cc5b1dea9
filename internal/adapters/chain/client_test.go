package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/traderscore/internal/adapters/cache"
)

var windowStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeExplorer struct {
	hits     atomic.Int32
	tokentx  atomic.Int32
	status   int
	message  string
	result   interface{}
	chainIDs chan string
}

func (f *fakeExplorer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	q := r.URL.Query()
	if f.chainIDs != nil {
		select {
		case f.chainIDs <- q.Get("chainid"):
		default:
		}
	}
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		return
	}
	body := map[string]interface{}{"status": "1", "message": "OK"}
	switch q.Get("action") {
	case "getblocknobytime":
		if q.Get("closest") == "before" {
			body["result"] = "100"
		} else {
			body["result"] = "200"
		}
	case "tokentx":
		f.tokentx.Add(1)
		if f.message != "" {
			body["status"] = "0"
			body["message"] = f.message
		}
		body["result"] = f.result
	}
	_ = json.NewEncoder(w).Encode(body)
}

func transferJSON(offset time.Duration, symbol, value string) map[string]string {
	return map[string]string{
		"blockNumber":     "150",
		"timeStamp":       jsonInt(windowStart.Add(offset).Unix()),
		"hash":            "0xabc",
		"from":            "0xEXCHANGE",
		"to":              "0xWALLET",
		"value":           value,
		"contractAddress": "0xTOKEN",
		"tokenSymbol":     symbol,
		"tokenDecimal":    "6",
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	base := []Option{
		WithBaseURL(srv.URL),
		WithAPIKey("test"),
		WithClock(func() time.Time { return windowStart.Add(24 * time.Hour) }),
	}
	return New(append(base, opts...)...)
}

func TestTokenTransfers(t *testing.T) {
	Convey("Given an explorer returning transfers", t, func() {
		fake := &fakeExplorer{
			result: []map[string]string{
				transferJSON(5*time.Minute, "USDT", "2500000000"),
				transferJSON(3*time.Hour, "USDT", "1000000"),
			},
			chainIDs: make(chan string, 16),
		}
		srv := httptest.NewServer(fake)
		defer srv.Close()
		c := newTestClient(srv, WithNetworks(Network{Name: "bsc", ChainID: 56}))

		Convey("When listing the window", func() {
			got, err := c.TokenTransfers(context.Background(), "bsc", "0xWallet", windowStart, windowStart.Add(time.Hour))

			Convey("Then only in-window transfers are decoded", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(got[0].Value.Equal(decimal.NewFromInt(2500)), ShouldBeTrue)
				So(got[0].To, ShouldEqual, "0xwallet")
				So(got[0].From, ShouldEqual, "0xexchange")
				So(got[0].BlockNumber, ShouldEqual, 150)
			})

			Convey("Then the chain id is sent", func() {
				So(<-fake.chainIDs, ShouldEqual, "56")
			})
		})

		Convey("When the network is not configured", func() {
			_, err := c.TokenTransfers(context.Background(), "polygon", "0xwallet", windowStart, windowStart.Add(time.Hour))

			Convey("Then it fails without retry", func() {
				So(errors.Is(err, ErrUnknownNetwork), ShouldBeTrue)
				So(IsRetryable(err), ShouldBeFalse)
				So(fake.hits.Load(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given an explorer with no transactions", t, func() {
		fake := &fakeExplorer{message: "No transactions found", result: []interface{}{}}
		srv := httptest.NewServer(fake)
		defer srv.Close()
		c := newTestClient(srv)

		got, err := c.TokenTransfers(context.Background(), "ethereum", "0xwallet", windowStart, windowStart.Add(time.Hour))
		So(err, ShouldBeNil)
		So(got, ShouldBeEmpty)
	})

	Convey("Given an explorer reporting a rate limit", t, func() {
		fake := &fakeExplorer{message: "NOTOK", result: "Max rate limit reached"}
		srv := httptest.NewServer(fake)
		defer srv.Close()
		c := newTestClient(srv)

		_, err := c.TokenTransfers(context.Background(), "ethereum", "0xwallet", windowStart, windowStart.Add(time.Hour))
		So(errors.Is(err, ErrRateLimited), ShouldBeTrue)
		So(IsRetryable(err), ShouldBeTrue)
	})
}

func TestHTTPFailures(t *testing.T) {
	Convey("Given an explorer failing with HTTP errors", t, func() {
		cases := []struct {
			code      int
			retryable bool
		}{
			{http.StatusBadRequest, false},
			{http.StatusUnauthorized, false},
			{http.StatusTooManyRequests, true},
			{http.StatusBadGateway, true},
		}
		for _, tc := range cases {
			srv := httptest.NewServer(&fakeExplorer{status: tc.code})
			c := newTestClient(srv)
			_, err := c.BlockAt(context.Background(), "ethereum", windowStart, "before")
			srv.Close()

			var se *StatusError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Code, ShouldEqual, tc.code)
			So(IsRetryable(err), ShouldEqual, tc.retryable)
		}
	})
}

func TestCircuitBreaker(t *testing.T) {
	Convey("Given a failing explorer and a breaker tripping after two failures", t, func() {
		fake := &fakeExplorer{status: http.StatusServiceUnavailable}
		srv := httptest.NewServer(fake)
		defer srv.Close()
		c := newTestClient(srv, WithBreaker(2, time.Minute))

		for i := 0; i < 2; i++ {
			_, err := c.BlockAt(context.Background(), "ethereum", windowStart, "before")
			So(err, ShouldNotBeNil)
		}

		Convey("Then further calls are short-circuited", func() {
			_, err := c.BlockAt(context.Background(), "ethereum", windowStart, "before")
			So(errors.Is(err, ErrCircuitOpen), ShouldBeTrue)
			So(IsRetryable(err), ShouldBeFalse)
			So(fake.hits.Load(), ShouldEqual, 2)
		})

		Convey("Then other networks are unaffected", func() {
			_, err := c.BlockAt(context.Background(), "bsc", windowStart, "before")
			So(errors.Is(err, ErrCircuitOpen), ShouldBeFalse)
			So(fake.hits.Load(), ShouldEqual, 3)
		})
	})
}

func TestResponseCache(t *testing.T) {
	Convey("Given a client with a memory cache", t, func() {
		fake := &fakeExplorer{result: []map[string]string{transferJSON(time.Minute, "ETH", "1000000")}}
		srv := httptest.NewServer(fake)
		defer srv.Close()
		mem := cache.NewMemory(time.Minute)
		c := newTestClient(srv, WithCache(mem, time.Minute))

		Convey("When the same closed window is requested twice", func() {
			for i := 0; i < 2; i++ {
				got, err := c.TokenTransfers(context.Background(), "ethereum", "0xwallet", windowStart, windowStart.Add(time.Hour))
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
			}

			Convey("Then the explorer is only called once per lookup", func() {
				So(fake.tokentx.Load(), ShouldEqual, 1)
				So(fake.hits.Load(), ShouldEqual, 3)
			})
		})
	})
}

func TestNetworks(t *testing.T) {
	Convey("Default networks are ethereum then bsc", t, func() {
		So(New().Networks(), ShouldResemble, []string{"ethereum", "bsc"})
	})
}
