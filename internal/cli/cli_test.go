package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/service"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestExpirePromotionsCommand(t *testing.T) {
	t.Setenv("STORE", "memory")

	out, err := run(t, "expire-promotions")
	require.NoError(t, err)

	var summary model.ExpirySummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Zero(t, summary.Scanned)
	require.Empty(t, summary.Expired)
}

func TestReconcileEventCommand(t *testing.T) {
	t.Setenv("STORE", "memory")

	_, err := run(t, "reconcile-event", "missing-event")
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = run(t, "reconcile-event")
	require.Error(t, err)
}

func TestGatewayCommandsNeedSecret(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("GATEWAY_SECRET_KEY", "")

	_, err := run(t, "sweep-payments")
	require.ErrorContains(t, err, "GATEWAY_SECRET_KEY")

	t.Setenv("GATEWAY_SECRET_KEY", "sk_test_cli")
	out, err := run(t, "sweep-payments")
	require.NoError(t, err)

	var summary model.SweepSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Zero(t, summary.Scanned)
}

func TestBadConfigFailsFast(t *testing.T) {
	t.Setenv("STORE", "mongo")
	_, err := run(t, "expire-promotions")
	require.ErrorContains(t, err, "STORE")
}

func TestSettingsFromConfig(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("GATEWAY_SECRET_KEY", "sk_test_cli")
	t.Setenv("PLATFORM_NAME", "tours")
	t.Setenv("PAYMENT_SWEEP_AGE", "15m")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a, err := bootstrap(ctx, io.Discard)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	s := settings(a.cfg)
	require.Equal(t, "sk_test_cli", s.WebhookSecret)
	require.Equal(t, "tours", s.PlatformName)
	require.Equal(t, a.cfg.PaymentSweepAge, s.SweepAge)
	require.Equal(t, service.DefaultSettings().SweepWorkers, s.SweepWorkers)
}
