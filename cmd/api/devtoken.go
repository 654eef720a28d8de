package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/pkg/auth"
	"github.com/angelmondragon/stockflow-backend/pkg/config"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
)

var errDevTokensDisabled = errors.New("dev tokens are disabled; set STOCKFLOW_DEV_TOKENS=true")

// mintDevToken prints a signed access token for a fresh user id with role.
// It is refused in prod and unless the dev token flag is on.
func mintDevToken(cfg *config.Config, role string, now time.Time, out io.Writer) error {
	if !cfg.FeatureFlags.DevTokens || cfg.App.IsProd() {
		return errDevTokensDisabled
	}
	userID := uuid.New()
	token, err := auth.MintAccessToken(cfg.JWT, now, auth.AccessTokenPayload{
		UserID: userID,
		Role:   enums.UserRole(role),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "user_id=%s role=%s\n%s\n", userID, role, token)
	return err
}
