package main

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/store"
)

func TestStatusFor_MapsSentinelsNotMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"store not found", fmt.Errorf("%w: task abc", store.ErrNotFound), http.StatusNotFound},
		{"chain not found", fmt.Errorf("receipt: %w", chain.ErrNotFound), http.StatusNotFound},
		{"validation", fmt.Errorf("%w: bad address", chain.ErrValidation), http.StatusBadRequest},
		{"deeply wrapped", fmt.Errorf("start job: %w", fmt.Errorf("%w: empty secret", chain.ErrValidation)), http.StatusBadRequest},
		{"connectivity", fmt.Errorf("submit: %w", chain.ErrConnectivity), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		// Wording that happens to contain taxonomy phrases stays a 500.
		{"message lookalike", errors.New("peer not found in routing table"), http.StatusInternalServerError},
		{"validation lookalike", errors.New("tls certificate validation failed"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}
