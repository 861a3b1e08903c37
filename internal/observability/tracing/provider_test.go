package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPII(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/charges"),
		attribute.String("email", "kid@example.com"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorKeepsPrefix(t *testing.T) {
	err := fmt.Errorf("charge payer: %w", errors.New("card 4242 declined for kid@example.com"))
	assert.EqualError(t, SafeError(err), "charge payer")
	assert.Nil(t, SafeError(nil))
}

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(nil, Config{Enabled: false}, nil)
	require.NoError(t, err)
	require.NotNil(t, provider)
}
