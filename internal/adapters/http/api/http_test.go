package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/traderscore/internal/adapters/http/api"
	service "github.com/okian/traderscore/internal/app"
	"github.com/okian/traderscore/internal/domain/model"
	"github.com/okian/traderscore/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// mockDependencies records calls and returns canned answers.
type mockDependencies struct {
	validateErr  error
	batchErr     error
	rankingsErr  error
	traderErr    error
	rankings     []model.RankingResult
	trader       model.TraderRecord
	gotInput     service.ValidationInput
	gotBatch     []service.ValidationInput
	gotPlatform  model.Platform
	gotLimit     int
	gotUsername  string
	deadlineSeen bool
	score        *float64
}

func (m *mockDependencies) Validate(ctx context.Context, in service.ValidationInput) (model.ValidationResult, error) {
	m.gotInput = in
	_, m.deadlineSeen = ctx.Deadline()
	if m.validateErr != nil {
		return model.ValidationResult{}, m.validateErr
	}
	res := model.ValidationResult{
		RunID:        "run-1",
		Username:     in.Profile.Username,
		Platform:     in.Profile.Platform,
		OverallScore: 0.42,
		FraudReasons: []string{},
	}
	if m.score != nil {
		res.OverallScore = *m.score
	}
	return res, nil
}

func (m *mockDependencies) ValidateBatch(_ context.Context, inputs []service.ValidationInput) (service.BatchResult, error) {
	m.gotBatch = inputs
	if m.batchErr != nil {
		return service.BatchResult{}, m.batchErr
	}
	out := service.BatchResult{RunID: "run-2", Errors: []service.TraderError{}}
	for _, in := range inputs {
		if in.Profile.Username == "" {
			out.Errors = append(out.Errors, service.TraderError{Platform: in.Profile.Platform, Error: "missing username"})
			continue
		}
		out.Results = append(out.Results, model.ValidationResult{RunID: "run-2", Username: in.Profile.Username})
	}
	return out, nil
}

func (m *mockDependencies) GetRankings(_ context.Context, platform model.Platform, limit int) ([]model.RankingResult, error) {
	m.gotPlatform, m.gotLimit = platform, limit
	if m.rankingsErr != nil {
		return nil, m.rankingsErr
	}
	return m.rankings, nil
}

func (m *mockDependencies) GetTrader(_ context.Context, username string, platform model.Platform) (model.TraderRecord, error) {
	m.gotUsername, m.gotPlatform = username, platform
	if m.traderErr != nil {
		return model.TraderRecord{}, m.traderErr
	}
	return m.trader, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(w *httptest.ResponseRecorder) map[string]string {
	var out map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

const validBody = `{
	"profile": {"username": "alice", "platform": "twitter", "followers": 1200},
	"wallet": "0x00000000000000000000000000000000000000aa",
	"trades": [{
		"pair": "ETH/USDT", "signal_type": "BUY",
		"entry_price": 2000, "exit_price": 2100,
		"entry_timestamp": "2024-02-01T09:00:00Z", "exit_timestamp": "2024-02-01T15:00:00Z"
	}],
	"signals": [{"pair": "ETH/USDT", "signal_type": "BUY", "reasoning": "breakout", "timestamp": "2024-02-01T08:55:00Z"}]
}`

func TestServer_Routes(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := &mockDependencies{}
		stats := &mockStatsProvider{stats: map[string]interface{}{"started": true, "validated": 3}}
		router := api.NewServer(deps, stats).Routes()

		Convey("When probing health", func() {
			w := serve(router, http.MethodGet, "/healthz", "")

			Convey("Then it reports ok", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			})
		})

		Convey("When reading stats", func() {
			w := serve(router, http.MethodGet, "/stats", "")

			Convey("Then the provider's map is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var got map[string]interface{}
				So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
				So(got["started"], ShouldEqual, true)
				So(got["validated"], ShouldEqual, 3.0)
			})
		})

		Convey("When scraping metrics", func() {
			serve(router, http.MethodGet, "/healthz", "")
			w := serve(router, http.MethodGet, "/metrics", "")

			Convey("Then the prometheus exposition is served", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "http_requests_total")
			})
		})

		Convey("When using the wrong method", func() {
			w := serve(router, http.MethodGet, "/v1/validate", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("When the route does not exist", func() {
			w := serve(router, http.MethodGet, "/leaderboard", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestServer_Validate(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := &mockDependencies{}
		router := api.NewServer(deps, &mockStatsProvider{}, api.WithRequestTimeout(time.Minute)).Routes()

		Convey("When posting a valid trader", func() {
			w := serve(router, http.MethodPost, "/v1/validate", validBody)

			Convey("Then the input is decoded and the result returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.gotInput.Profile.Username, ShouldEqual, "alice")
				So(deps.gotInput.Profile.Platform, ShouldEqual, model.PlatformTwitter)
				So(deps.gotInput.Trades, ShouldHaveLength, 1)
				So(deps.gotInput.Trades[0].ExitTimestamp, ShouldEqual, time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC))
				So(deps.gotInput.Signals[0].Reasoning, ShouldEqual, "breakout")
				So(deps.deadlineSeen, ShouldBeTrue)

				var res model.ValidationResult
				So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
				So(res.RunID, ShouldEqual, "run-1")
				So(res.OverallScore, ShouldEqual, 0.42)
			})
		})

		Convey("When the body is malformed", func() {
			for _, body := range []string{`{`, `{"profile": 5}`, `{"unknown": true}`} {
				w := serve(router, http.MethodPost, "/v1/validate", body)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(w)["code"], ShouldEqual, "bad_request")
			}
		})

		Convey("When the service rejects the input", func() {
			deps.validateErr = fmt.Errorf("%w: %w", service.ErrInvalidInput, model.ErrMissingUsername)
			w := serve(router, http.MethodPost, "/v1/validate", validBody)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When persistence is down", func() {
			deps.validateErr = fmt.Errorf("%w: %w", service.ErrPersistence, errors.New("dial tcp: refused"))
			w := serve(router, http.MethodPost, "/v1/validate", validBody)

			Convey("Then the client is told to retry", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(decodeError(w)["code"], ShouldEqual, "persistence_unavailable")
			})
		})

		Convey("When the trader is already being validated", func() {
			deps.validateErr = fmt.Errorf("%w: twitter/alice", service.ErrInFlight)
			w := serve(router, http.MethodPost, "/v1/validate", validBody)
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(decodeError(w)["code"], ShouldEqual, "in_progress")
		})

		Convey("When the request runs out of time", func() {
			deps.validateErr = context.DeadlineExceeded
			w := serve(router, http.MethodPost, "/v1/validate", validBody)
			So(w.Code, ShouldEqual, http.StatusGatewayTimeout)
		})

		Convey("When the service fails unexpectedly", func() {
			deps.validateErr = errors.New("boom")
			w := serve(router, http.MethodPost, "/v1/validate", validBody)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("When the result cannot be encoded", func() {
			inf := math.Inf(1)
			deps.score = &inf
			w := serve(router, http.MethodPost, "/v1/validate", validBody)

			Convey("Then the client gets a 500 with an error body, not an empty success", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(decodeError(w)["code"], ShouldEqual, "internal_error")
			})
		})
	})
}

func TestServer_ValidateBatch(t *testing.T) {
	Convey("Given an API server with a small batch cap", t, func() {
		deps := &mockDependencies{}
		router := api.NewServer(deps, &mockStatsProvider{}, api.WithMaxBatchSize(2)).Routes()

		Convey("When posting a batch with one bad trader", func() {
			body := `{"traders": [` + validBody + `, {"profile": {"platform": "reddit"}}]}`
			w := serve(router, http.MethodPost, "/v1/validate/batch", body)

			Convey("Then the batch succeeds with a per-trader error", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.gotBatch, ShouldHaveLength, 2)
				var res service.BatchResult
				So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
				So(res.Results, ShouldHaveLength, 1)
				So(res.Errors, ShouldHaveLength, 1)
				So(res.Errors[0].Platform, ShouldEqual, model.PlatformReddit)
			})
		})

		Convey("When the batch is empty", func() {
			w := serve(router, http.MethodPost, "/v1/validate/batch", `{"traders": []}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the batch exceeds the cap", func() {
			body := `{"traders": [` + strings.Repeat(validBody+",", 2) + validBody + `]}`
			w := serve(router, http.MethodPost, "/v1/validate/batch", body)
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			So(deps.gotBatch, ShouldBeNil)
		})

		Convey("When the service is not running", func() {
			deps.batchErr = service.ErrNotStarted
			w := serve(router, http.MethodPost, "/v1/validate/batch", `{"traders": [`+validBody+`]}`)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(decodeError(w)["code"], ShouldEqual, "not_ready")
		})
	})

	Convey("Given a server with a tiny body cap", t, func() {
		deps := &mockDependencies{}
		router := api.NewServer(deps, &mockStatsProvider{}, api.WithMaxBodyBytes(16)).Routes()

		w := serve(router, http.MethodPost, "/v1/validate", validBody)

		Convey("Then oversized bodies are rejected before the service is called", func() {
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			So(decodeError(w)["code"], ShouldEqual, "body_too_large")
			So(deps.gotInput.Profile.Username, ShouldBeEmpty)
		})

		Convey("Then oversized batches get the same answer", func() {
			w := serve(router, http.MethodPost, "/v1/validate/batch", `{"traders": [`+validBody+`]}`)
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			So(decodeError(w)["code"], ShouldEqual, "body_too_large")
			So(deps.gotBatch, ShouldBeNil)
		})

		Convey("Then small malformed bodies are still bad requests", func() {
			w := serve(router, http.MethodPost, "/v1/validate", `{`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestServer_Rankings(t *testing.T) {
	Convey("Given an API server with ranked traders", t, func() {
		deps := &mockDependencies{rankings: []model.RankingResult{
			{TraderUsername: "alice", Platform: model.PlatformTwitter, OverallScore: 0.8, Rank: 1},
			{TraderUsername: "bob", Platform: model.PlatformTwitter, OverallScore: 0.5, Rank: 2},
		}}
		router := api.NewServer(deps, &mockStatsProvider{}).Routes()

		Convey("When querying with a platform and limit", func() {
			w := serve(router, http.MethodGet, "/v1/rankings?platform=Twitter&limit=2", "")

			Convey("Then the parameters are forwarded and rows returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.gotPlatform, ShouldEqual, model.PlatformTwitter)
				So(deps.gotLimit, ShouldEqual, 2)
				var body struct {
					Count    int                   `json:"count"`
					Rankings []model.RankingResult `json:"rankings"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body.Count, ShouldEqual, 2)
				So(body.Rankings[0].TraderUsername, ShouldEqual, "alice")
				So(body.Rankings[1].Rank, ShouldEqual, 2)
			})
		})

		Convey("When querying without parameters", func() {
			w := serve(router, http.MethodGet, "/v1/rankings", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.gotPlatform, ShouldEqual, model.Platform(""))
			So(deps.gotLimit, ShouldEqual, 0)
		})

		Convey("When nothing is ranked yet", func() {
			deps.rankings = nil
			w := serve(router, http.MethodGet, "/v1/rankings", "")
			So(w.Body.String(), ShouldContainSubstring, `"rankings":[]`)
		})

		Convey("When the parameters are invalid", func() {
			So(serve(router, http.MethodGet, "/v1/rankings?platform=myspace", "").Code, ShouldEqual, http.StatusBadRequest)
			So(serve(router, http.MethodGet, "/v1/rankings?limit=ten", "").Code, ShouldEqual, http.StatusBadRequest)

			deps.rankingsErr = service.ErrInvalidLimit
			So(serve(router, http.MethodGet, "/v1/rankings?limit=-1", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestServer_GetTrader(t *testing.T) {
	Convey("Given an API server with one stored trader", t, func() {
		deps := &mockDependencies{trader: model.TraderRecord{
			Username: "alice", Platform: model.PlatformReddit, OverallScore: 0.7,
		}}
		router := api.NewServer(deps, &mockStatsProvider{}).Routes()

		Convey("When fetching the trader", func() {
			w := serve(router, http.MethodGet, "/v1/traders/reddit/alice", "")

			Convey("Then the stored row is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.gotUsername, ShouldEqual, "alice")
				So(deps.gotPlatform, ShouldEqual, model.PlatformReddit)
				var rec model.TraderRecord
				So(json.Unmarshal(w.Body.Bytes(), &rec), ShouldBeNil)
				So(rec.OverallScore, ShouldEqual, 0.7)
			})
		})

		Convey("When the trader is unknown", func() {
			deps.traderErr = service.ErrNotFound
			w := serve(router, http.MethodGet, "/v1/traders/reddit/ghost", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeError(w)["code"], ShouldEqual, "not_found")
		})

		Convey("When the platform is unknown", func() {
			w := serve(router, http.MethodGet, "/v1/traders/myspace/alice", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(deps.gotUsername, ShouldBeEmpty)
		})
	})
}
