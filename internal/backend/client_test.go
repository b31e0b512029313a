package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// --- helpers ---

func backendServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHTTPClient(ts.URL, 5*time.Second)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// --- ParseJSON ---

func TestParseJSON_ErrorPayloadIsData(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, `{"detail":"slow down"}`)
	})

	reply, err := c.Analyze(context.Background(), AnalyzeQuery{Market: models.Market1HOver05})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, reply.Status)
	assert.False(t, reply.OK())
	assert.Equal(t, "slow down", reply.ServerMessage())

	statusErr := reply.Err()
	assert.ErrorIs(t, statusErr, ErrRateLimited)
}

func TestParseJSON_HTMLBodyKeepsSnippet(t *testing.T) {
	page := "<html>" + strings.Repeat("x", 500) + "</html>"
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, page)
	})

	_, err := c.Analyze(context.Background(), AnalyzeQuery{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)

	var nonJSON *NonJSONResponseError
	require.True(t, errors.As(err, &nonJSON))
	assert.Equal(t, http.StatusBadGateway, nonJSON.Status)
	assert.Len(t, nonJSON.Snippet, snippetChars)
	assert.True(t, strings.HasPrefix(nonJSON.Snippet, "<html>"))
}

func TestParseJSON_DeclaredJSONButInvalid(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"results": [`)
	})

	_, err := c.Analyze(context.Background(), AnalyzeQuery{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestReply_DetailFallsBackToBody(t *testing.T) {
	r := &Reply{Status: 500, Body: json.RawMessage(`{"trace":"boom"}`)}
	assert.Equal(t, `{"trace":"boom"}`, r.Detail())

	r = &Reply{Status: 500, Body: json.RawMessage(`{"error":"db down","message":"ignored"}`)}
	assert.Equal(t, "db down", r.Detail())
}

func TestTruncateChars_RuneSafe(t *testing.T) {
	assert.Equal(t, "ab", truncateChars("ab", 5))
	assert.Equal(t, "éé", truncateChars("ééé", 2))
}

// --- Analyze ---

func TestAnalyze_QueryEncoding(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2024-05-01T08:00:00.000Z", q.Get("from_date"))
		assert.Equal(t, "2024-05-01T22:30:00.000Z", q.Get("to_date"))
		assert.Equal(t, "8", q.Get("from_hour"))
		assert.Equal(t, "23", q.Get("to_hour"))
		assert.Equal(t, "gg1h", q.Get("market"))
		assert.Equal(t, "1", q.Get("no_api"))
		writeJSON(w, http.StatusOK, `{"results":[]}`)
	})

	reply, err := c.Analyze(context.Background(), AnalyzeQuery{
		FromDate: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		ToDate:   time.Date(2024, 5, 1, 22, 30, 0, 0, time.UTC),
		FromHour: 8,
		ToHour:   23,
		Market:   models.MarketGG1H,
		NoAPI:    true,
	})
	require.NoError(t, err)
	assert.True(t, reply.OK())
}

// --- prepare-day ---

func TestStartPrepareDay_SendsBearerAndBody(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/prepare-day", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var body models.PrepareDayRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2024-05-01", body.Date)
		assert.True(t, body.Prewarm)
		assert.Equal(t, "tok-1", body.SessionID)

		writeJSON(w, http.StatusOK, `{"ok":true,"job_id":"job-42"}`)
	})

	id, err := c.StartPrepareDay(context.Background(), "tok-1", models.PrepareDayRequest{
		Date: "2024-05-01", Prewarm: true, SessionID: "tok-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-42", id)
}

func TestStartPrepareDay_AuthFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"401 json", http.StatusUnauthorized, `{"detail":"expired"}`, ErrUnauthorized},
		{"403 json", http.StatusForbidden, `{"detail":"admins only"}`, ErrForbidden},
		{"401 html", http.StatusUnauthorized, `<h1>no</h1>`, ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
				ct := "application/json"
				if strings.HasPrefix(tt.body, "<") {
					ct = "text/html"
				}
				w.Header().Set("Content-Type", ct)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := c.StartPrepareDay(context.Background(), "tok", models.PrepareDayRequest{Date: "2024-05-01"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStartPrepareDay_NoJobID(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"ok":false,"error":"already running"}`)
	})

	_, err := c.StartPrepareDay(context.Background(), "tok", models.PrepareDayRequest{Date: "2024-05-01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestPrepareDayStatus(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/prepare-day/status", r.URL.Path)
		assert.Equal(t, "job-1", r.URL.Query().Get("job_id"))
		writeJSON(w, http.StatusOK, `{"status":"running","progress":40,"detail":"teams"}`)
	})

	job, err := c.PrepareDayStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	require.NotNil(t, job.Progress)
	assert.InDelta(t, 40, *job.Progress, 0.001)
	assert.Equal(t, "teams", job.Detail)
}

func TestCheckAnalysisExists(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-05-01", r.URL.Query().Get("date"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"analysis_complete":true,"analysis_exists":true,"fixtures_count":12,"model_outputs_count":30}`)
	})

	avail, err := c.CheckAnalysisExists(context.Background(), "tok", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", avail.Date)
	assert.True(t, avail.AnalysisComplete)
	assert.Equal(t, 12, avail.FixturesCount)
	assert.Equal(t, 30, avail.ModelOutputsCount)
}

// --- loader ---

func TestGlobalLoaderStatus(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"active":true,"detail":"prewarming","started_at":"2024-05-01T10:00:00"}`)
	})

	status, err := c.GlobalLoaderStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, "prewarming", status.Detail)
}

func TestOpenLoaderEvents(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"active\":false}\n\n")
	})

	body, err := c.OpenLoaderEvents(context.Background())
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"active":false`)
}

func TestOpenLoaderEvents_NotAStream(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})

	_, err := c.OpenLoaderEvents(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestOpenLoaderEvents_NotFound(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.OpenLoaderEvents(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
}

// --- auth ---

func TestLogin_Success(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		var creds models.Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "a@b.c", creds.Email)
		assert.True(t, creds.RememberMe)
		writeJSON(w, http.StatusOK, `{"success":true,"session_id":"s-1","user":{"id":7,"email":"a@b.c","first_name":"Ann","last_name":"Lee","is_admin":true}}`)
	})

	sess, err := c.Login(context.Background(), models.Credentials{Email: "a@b.c", Password: "pw", RememberMe: true})
	require.NoError(t, err)
	assert.Equal(t, "s-1", sess.SessionID)
	assert.Equal(t, int64(7), sess.User.ID)
	assert.True(t, sess.User.IsAdmin)
	assert.Equal(t, "Ann Lee", sess.User.Name())
	assert.False(t, sess.LoginTime.IsZero())
}

func TestLogin_Rejected(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":false,"message":"bad password"}`)
	})

	_, err := c.Login(context.Background(), models.Credentials{Email: "a@b.c"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "bad password")
}

func TestLogin_FailureKeepsBackendStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
		detail string
	}{
		{"outage", http.StatusInternalServerError, `{"success":false,"detail":"database unavailable"}`, ErrServer, "database unavailable"},
		{"throttled", http.StatusTooManyRequests, `{"success":false,"message":"slow down"}`, ErrRateLimited, "slow down"},
		{"bad credentials", http.StatusBadRequest, `{"success":false,"message":"wrong password"}`, ErrUnauthorized, "wrong password"},
		{"no session issued", http.StatusOK, `{"success":true}`, ErrUnauthorized, "login failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := c.Login(context.Background(), models.Credentials{Email: "a@b.c"})
			require.ErrorIs(t, err, tt.want)
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.detail, statusErr.Detail)
		})
	}
}

func TestRegister_Rejected(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, `{"success":false,"message":"email taken"}`)
	})

	err := c.Register(context.Background(), models.Registration{Email: "a@b.c"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusConflict, statusErr.Status)
	assert.Equal(t, "email taken", statusErr.Detail)
}

func TestLogout_SendsSessionID(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s-1", body["session_id"])
		writeJSON(w, http.StatusOK, `{"success":true}`)
	})

	assert.NoError(t, c.Logout(context.Background(), "s-1"))
}

func TestListUsers(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "ann", q.Get("search"))
		writeJSON(w, http.StatusOK, `{"users":[{"id":1,"email":"ann@x.y"}],"total":11}`)
	})

	page, err := c.ListUsers(context.Background(), "tok", UserQuery{Page: 2, Limit: 10, Search: "ann"})
	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "ann@x.y", page.Users[0].Email)
}

func TestSavePDF(t *testing.T) {
	c := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Matches []json.RawMessage `json:"matches"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Matches, 1)
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-1.4")
	})

	pdf, err := c.SavePDF(context.Background(), "tok", []models.Match{{Team1: "A", Team2: "B"}})
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(pdf))
}

// --- transport errors ---

func TestClassifyError_Unreachable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", time.Second)

	_, err := c.GlobalLoaderStatus(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestClassifyError_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer ts.Close()
	c := NewHTTPClient(ts.URL, 20*time.Millisecond)

	_, err := c.GlobalLoaderStatus(context.Background())
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

func TestClassifyError_CancelledPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewHTTPClient("http://127.0.0.1:1", time.Second)

	_, err := c.GlobalLoaderStatus(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
