// action_token.go implements the single-use tokens that arm destructive log
// operations. The admin UI first requests a token naming the exact action,
// then presents it with the destructive request itself; a token is consumed
// on first redemption and cannot be replayed.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/changetrail/changetrail/internal/db/models"
)

// Actions an action token can authorize. A token minted for one action is
// useless for any other.
const (
	ActionExport  = "logs.export"
	ActionDelete  = "logs.delete"
	ActionCleanup = "logs.cleanup"
)

var (
	// ErrActionMismatch means the token is valid but was minted for a
	// different action than the one being attempted.
	ErrActionMismatch = errors.New("action token was issued for a different action")
	// ErrTokenReplayed means the token was already redeemed once.
	ErrTokenReplayed = errors.New("action token has already been used")
)

// ActionClaims is the claim set carried by action tokens. ID (jti) is the
// replay-guard key.
type ActionClaims struct {
	UserID int64  `json:"user_id"`
	Login  string `json:"login"`
	Action string `json:"action"`
	jwt.RegisteredClaims
}

// ActionTokenIssuer mints and redeems single-use action tokens. Redemption
// state is held in memory: tokens are short-lived and bound to the issuing
// process, so a restart invalidating outstanding tokens is acceptable (the
// admin just requests a new one).
type ActionTokenIssuer struct {
	ttl time.Duration

	mu       sync.Mutex
	redeemed map[string]time.Time // jti -> token expiry, pruned on redeem
}

func NewActionTokenIssuer(ttl time.Duration) *ActionTokenIssuer {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &ActionTokenIssuer{
		ttl:      ttl,
		redeemed: make(map[string]time.Time),
	}
}

// Issue mints a token authorizing actor to perform exactly one action once,
// within the issuer's TTL.
func (i *ActionTokenIssuer) Issue(actor models.Actor, action string) (string, error) {
	now := time.Now()
	claims := &ActionClaims{
		UserID: actor.ID,
		Login:  actor.Login,
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "changetrail",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(getTokenSecret()))
}

// Redeem validates the token for the expected action and consumes it.
// Signature and expiry are checked first, then the action binding, then the
// replay guard; consumption happens under the lock so two concurrent
// redemptions of the same token cannot both succeed.
func (i *ActionTokenIssuer) Redeem(tokenString, expectedAction string) (*ActionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(getTokenSecret()), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*ActionClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if claims.Action != expectedAction {
		return nil, ErrActionMismatch
	}
	if claims.ID == "" {
		return nil, errors.New("action token missing jti")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, used := i.redeemed[claims.ID]; used {
		return nil, ErrTokenReplayed
	}
	i.redeemed[claims.ID] = claims.ExpiresAt.Time
	i.prune(time.Now())

	return claims, nil
}

// prune drops redemption records for tokens that have expired anyway; an
// expired token fails signature validation before the replay check, so the
// record serves no purpose. Called with the lock held.
func (i *ActionTokenIssuer) prune(now time.Time) {
	for jti, exp := range i.redeemed {
		if now.After(exp) {
			delete(i.redeemed, jti)
		}
	}
}
