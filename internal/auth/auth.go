// Package auth issues and checks the bearer tokens that bind a request to a
// professional's account. A user owns exactly one account and both share one
// id, so the token subject is the account id.
package auth

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	jwtIssuer   = "homepro-api"
	jwtAudience = "homepro-professionals"

	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

var (
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidTokenType = errors.New("invalid token type")
	ErrEmptyJWTSecret   = errors.New("jwt secret cannot be empty")
	ErrInvalidPrincipal = errors.New("token principal needs an account id and a known role")
)

// Role decides which routes a principal may reach.
type Role string

const (
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleProfessional || r == RoleAdmin
}

type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Principal is the caller a token speaks for.
type Principal struct {
	AccountID string
	Email     string
	Role      Role
}

// Claims is the signed payload. The account id travels as the registered
// subject claim.
type Claims struct {
	Email string    `json:"email"`
	Role  Role      `json:"role"`
	Kind  TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

func (c *Claims) Principal() Principal {
	return Principal{AccountID: c.Subject, Email: c.Email, Role: c.Role}
}

type Tokens struct {
	Access  string
	Refresh string
}

// Issuer signs and verifies HS256 tokens with a single secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// Issue signs an access and a refresh token for p.
func (i *Issuer) Issue(p Principal) (Tokens, error) {
	access, err := i.Access(p)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := i.sign(p, KindRefresh, RefreshTokenTTL)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Access: access, Refresh: refresh}, nil
}

func (i *Issuer) Access(p Principal) (string, error) {
	return i.sign(p, KindAccess, AccessTokenTTL)
}

func (i *Issuer) sign(p Principal, kind TokenKind, ttl time.Duration) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrEmptyJWTSecret
	}
	if p.AccountID == "" || !p.Role.Valid() {
		return "", ErrInvalidPrincipal
	}

	now := i.now()
	claims := &Claims{
		Email: p.Email,
		Role:  p.Role,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.AccountID,
			Issuer:    jwtIssuer,
			Audience:  []string{jwtAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses token and accepts it only when it is of the wanted kind and
// names an account and a known role.
func (i *Issuer) Verify(token string, want TokenKind) (*Claims, error) {
	if len(i.secret) == 0 {
		return nil, ErrEmptyJWTSecret
	}

	parsed, err := jwt.ParseWithClaims(
		token,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Newf("unexpected signing method %v", t.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(jwtIssuer),
		jwt.WithAudience(jwtAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Mark(err, ErrInvalidToken)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != want {
		return nil, ErrInvalidTokenType
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, ErrInvalidPrincipal
	}
	return claims, nil
}

// Refresh trades a refresh token for a new access token carrying the same
// principal.
func (i *Issuer) Refresh(refreshToken string) (string, *Claims, error) {
	claims, err := i.Verify(refreshToken, KindRefresh)
	if err != nil {
		return "", nil, err
	}
	access, err := i.Access(claims.Principal())
	if err != nil {
		return "", nil, err
	}
	return access, claims, nil
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func CheckPassword(hashedPassword, plainPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(plainPassword)) == nil
}
