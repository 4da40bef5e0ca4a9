package secret_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/secret"
)

func TestEnvProviderResolvesMappedName(t *testing.T) {
	t.Setenv("WEFT_TEST_ANTHROPIC_API_KEY", "sk-mapped")
	p := secret.NewEnvProvider(map[string]string{"anthropic": "WEFT_TEST_ANTHROPIC_API_KEY"})

	v, err := p.Resolve("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-mapped", v)
}

func TestEnvProviderMissingNameIsSecretError(t *testing.T) {
	p := secret.NewEnvProvider(nil)

	_, err := p.Resolve("WEFT_TEST_DEFINITELY_UNSET")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Secret))
}

func TestCacheResolvesOnceAndCaches(t *testing.T) {
	calls := 0
	provider := providerFunc(func(name string) (string, error) {
		calls++
		return "super-secret-value", nil
	})
	cache := secret.NewCache(provider, nil)

	v1, err := cache.Resolve("anthropic")
	require.NoError(t, err)
	v2, err := cache.Resolve("anthropic")
	require.NoError(t, err)

	assert.Equal(t, "super-secret-value", v1)
	assert.Equal(t, "super-secret-value", v2)
	assert.Equal(t, 1, calls)
}

func TestCacheResolveAllFailsOnFirstMissingSecret(t *testing.T) {
	provider := providerFunc(func(name string) (string, error) {
		if name == "missing" {
			return "", errs.New(errs.Secret, "missing secret %q", name)
		}
		return "value", nil
	})
	cache := secret.NewCache(provider, nil)

	err := cache.ResolveAll("present", "missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Secret))
}

func TestCacheRegistersResolvedValuesWithRedactor(t *testing.T) {
	provider := providerFunc(func(name string) (string, error) {
		return "sk-top-secret", nil
	})
	redactor := secret.NewRedactor()
	cache := secret.NewCache(provider, redactor)

	_, err := cache.Resolve("anthropic")
	require.NoError(t, err)

	assert.Equal(t, "bearer ****", redactor.Redact("bearer sk-top-secret"))
}

func TestRedactorIgnoresEmptyValues(t *testing.T) {
	redactor := secret.NewRedactor()
	redactor.Register("")
	assert.Equal(t, "unchanged", redactor.Redact("unchanged"))
}

func TestRedactingLoggerScrubsMessageAndKeyvals(t *testing.T) {
	redactor := secret.NewRedactor()
	redactor.Register("sk-top-secret")

	recorder := &recordingLogger{}
	logger := secret.NewRedactingLogger(recorder, redactor)

	logger.Info(context.Background(), "using key sk-top-secret", "token", "sk-top-secret", "count", 3)

	require.Len(t, recorder.infoCalls, 1)
	call := recorder.infoCalls[0]
	assert.Equal(t, "using key ****", call.msg)
	assert.Equal(t, []any{"token", "****", "count", 3}, call.keyvals)
}

type providerFunc func(name string) (string, error)

func (f providerFunc) Resolve(name string) (string, error) { return f(name) }

type logCall struct {
	msg     string
	keyvals []any
}

type recordingLogger struct {
	infoCalls []logCall
}

func (r *recordingLogger) Debug(ctx context.Context, msg string, keyvals ...any) {}
func (r *recordingLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	r.infoCalls = append(r.infoCalls, logCall{msg: msg, keyvals: keyvals})
}
func (r *recordingLogger) Warn(ctx context.Context, msg string, keyvals ...any)  {}
func (r *recordingLogger) Error(ctx context.Context, msg string, keyvals ...any) {}
