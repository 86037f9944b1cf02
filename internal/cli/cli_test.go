package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/presence/internal/api"
	"example.com/presence/internal/auth"
	"example.com/presence/internal/dashboard"
	"example.com/presence/internal/domain"
	"example.com/presence/internal/persistence/memory"
	"example.com/presence/internal/presence"
)

const (
	testSecret = "cli-secret"
	testIssuer = "presence-cli-test"
)

type channelPlatform struct{}

func (channelPlatform) SendMessage(context.Context, string, domain.Summary) (string, error) {
	return "1700000000.000100", nil
}

func (channelPlatform) EditMessage(context.Context, string, string, domain.Summary) error {
	return nil
}

func (channelPlatform) FetchChannel(_ context.Context, channelID string) (*domain.Channel, error) {
	if channelID != "C-DASH" {
		return nil, nil
	}
	return &domain.Channel{ID: channelID, Name: "dashboard"}, nil
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.NewStore()
	recorder := presence.NewRecorder(store, presence.NewPeriodAccountant(time.UTC))
	reconciler := dashboard.NewReconciler(store, recorder, channelPlatform{})

	handler := api.NewHandler(api.Dependencies{
		Recorder:  recorder,
		Records:   store,
		Configs:   store,
		Dashboard: reconciler,
		Platform:  channelPlatform{},
		Logger:    zerolog.Nop(),
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(auth.NewMiddleware(auth.Config{Secret: testSecret, Issuer: testIssuer}).Wrap(mux))
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	buf := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(buf.String()), err
}

func mintToken(t *testing.T, group string) string {
	t.Helper()
	out, err := runCLI(t, "token", "--secret", testSecret, "--issuer", testIssuer, "--group", group)
	require.NoError(t, err)
	claims, err := auth.Parse(out, auth.Config{Secret: testSecret, Issuer: testIssuer})
	require.NoError(t, err)
	require.Equal(t, group, claims.GroupID)
	return out
}

func TestRecordListAndPreview(t *testing.T) {
	srv := newTestAPI(t)
	token := mintToken(t, "team-a")

	out, err := runCLI(t, "--api", srv.URL, "--token", token, "record", "u1", "online", "--name", "Alice")
	require.NoError(t, err)
	require.Contains(t, out, "u1 is online")

	out, err = runCLI(t, "--api", srv.URL, "--token", token, "list")
	require.NoError(t, err)
	require.Contains(t, out, "SUBJECT")
	require.Contains(t, out, "Alice")

	out, err = runCLI(t, "--api", srv.URL, "--token", token, "preview")
	require.NoError(t, err)
	require.Contains(t, out, "Online")
	require.Contains(t, out, "Alice")
	require.Contains(t, out, "1 subjects")
}

func TestChannelAndReconcile(t *testing.T) {
	srv := newTestAPI(t)
	token := mintToken(t, "team-a")

	out, err := runCLI(t, "--api", srv.URL, "--token", token, "channel")
	require.NoError(t, err)
	require.Contains(t, out, "(not configured)")

	_, err = runCLI(t, "--api", srv.URL, "--token", token, "reconcile")
	require.ErrorContains(t, err, "dashboard_not_configured")

	_, err = runCLI(t, "--api", srv.URL, "--token", token, "channel", "C-MISSING")
	require.ErrorContains(t, err, "channel_not_found")

	out, err = runCLI(t, "--api", srv.URL, "--token", token, "channel", "C-DASH")
	require.NoError(t, err)
	require.Contains(t, out, "C-DASH")

	out, err = runCLI(t, "--api", srv.URL, "--token", token, "reconcile")
	require.NoError(t, err)
	require.Contains(t, out, "1700000000.000100 in C-DASH")
}

func TestCommandErrors(t *testing.T) {
	srv := newTestAPI(t)

	_, err := runCLI(t, "--api", srv.URL, "list")
	require.ErrorContains(t, err, "401")

	_, err = runCLI(t, "--api", srv.URL, "--token", "x", "record", "u1", "maybe")
	require.ErrorContains(t, err, "online or offline")

	_, err = runCLI(t, "token", "--secret", testSecret)
	require.ErrorContains(t, err, "--group")
}
