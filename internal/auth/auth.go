// Package auth holds the bridge's own access control state: the registry
// of API clients allowed to call it and the global API-enabled flag.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sydlexius/massaction/internal/database"
)

// AppTokenPrefix marks application tokens issued by the registry.
const AppTokenPrefix = "ma_"

const settingAPIEnabled = "api_enabled"

var (
	// ErrClientNotFound is returned when no API client has the requested ID.
	ErrClientNotFound = errors.New("api client not found")
	// ErrClientExists is returned when the client name is already taken.
	ErrClientExists = errors.New("an api client with this name already exists")
)

// Client is a registered API client. Requests are accepted only from
// addresses matching an active client.
type Client struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsActive    bool      `json:"is_active"`
	IPv4Start   string    `json:"ipv4_range_start,omitempty"`
	IPv4End     string    `json:"ipv4_range_end,omitempty"`
	IPv6        string    `json:"ipv6,omitempty"`
	HasAppToken bool      `json:"has_app_token"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	tokenHash string
}

// ClientInput describes a client to create.
type ClientInput struct {
	Name      string `json:"name"`
	IPv4Start string `json:"ipv4_range_start"`
	IPv4End   string `json:"ipv4_range_end"`
	IPv6      string `json:"ipv6"`
	// WithAppToken issues an application token the client must present.
	WithAppToken bool `json:"with_app_token"`
}

// Service provides access control operations.
type Service struct {
	db *sql.DB
}

// NewService creates an auth service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateClient registers an active client. When an application token is
// requested, its plaintext is returned once and only its hash is stored.
func (s *Service) CreateClient(ctx context.Context, in ClientInput) (*Client, string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, "", errors.New("name is required")
	}
	start, end, err := parseIPv4Range(in.IPv4Start, in.IPv4End)
	if err != nil {
		return nil, "", err
	}
	ipv6, err := parseIPv6(in.IPv6)
	if err != nil {
		return nil, "", err
	}

	var plaintext string
	var hash sql.NullString
	if in.WithAppToken {
		plaintext, err = generateToken()
		if err != nil {
			return nil, "", fmt.Errorf("generating app token: %w", err)
		}
		plaintext = AppTokenPrefix + plaintext
		h, err := bcrypt.GenerateFromPassword(prehashToken(plaintext), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("hashing app token: %w", err)
		}
		hash = sql.NullString{String: string(h), Valid: true}
	}

	now := time.Now().UTC()
	c := &Client{
		ID:          uuid.New().String(),
		Name:        name,
		IsActive:    true,
		IPv6:        ipv6.String,
		HasAppToken: hash.Valid,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_clients (id, name, is_active, ipv4_range_start, ipv4_range_end,
		                         ipv6, app_token_hash, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, start, end, ipv6, hash, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, "", ErrClientExists
		}
		return nil, "", fmt.Errorf("creating api client: %w", err)
	}
	c.IPv4Start, c.IPv4End = formatIPv4(start), formatIPv4(end)
	return c, plaintext, nil
}

const clientColumns = `id, name, is_active, ipv4_range_start, ipv4_range_end, ipv6,
	app_token_hash, created_at, updated_at`

// ListClients returns every registered client ordered by name.
func (s *Service) ListClients(ctx context.Context) ([]Client, error) {
	return s.queryClients(ctx, `SELECT `+clientColumns+` FROM api_clients ORDER BY name`)
}

// GetClient returns a client by ID.
func (s *Service) GetClient(ctx context.Context, id string) (*Client, error) {
	clients, err := s.queryClients(ctx, `SELECT `+clientColumns+` FROM api_clients WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, ErrClientNotFound
	}
	return &clients[0], nil
}

// SetClientActive enables or disables a client.
func (s *Service) SetClientActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_clients SET is_active = ?, updated_at = ? WHERE id = ?
	`, active, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating api client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClientNotFound
	}
	return nil
}

// DeleteClient removes a client.
func (s *Service) DeleteClient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_clients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting api client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClientNotFound
	}
	return nil
}

// MatchClients returns the active clients that accept addr. A client
// without an IPv4 range accepts every IPv4 address, and a client without
// an IPv6 address accepts every IPv6 address.
func (s *Service) MatchClients(ctx context.Context, addr netip.Addr) ([]Client, error) {
	addr = addr.Unmap()
	if addr.Is4() {
		ipnum := ipv4ToInt(addr)
		return s.queryClients(ctx, `
			SELECT `+clientColumns+` FROM api_clients
			WHERE is_active = 1
			  AND (ipv4_range_start IS NULL
			       OR (ipv4_range_start <= ? AND ipv4_range_end >= ?))
		`, ipnum, ipnum)
	}
	return s.queryClients(ctx, `
		SELECT `+clientColumns+` FROM api_clients
		WHERE is_active = 1 AND (ipv6 IS NULL OR ipv6 = ?)
	`, addr.String())
}

// VerifyAppToken reports whether token satisfies the matched clients:
// any client without an application token accepts the request, otherwise
// token must verify against one of the clients' tokens.
func VerifyAppToken(clients []Client, token string) bool {
	for _, c := range clients {
		if c.tokenHash == "" {
			return true
		}
	}
	if token == "" {
		return false
	}
	for _, c := range clients {
		if bcrypt.CompareHashAndPassword([]byte(c.tokenHash), prehashToken(token)) == nil {
			return true
		}
	}
	return false
}

// SeedClients creates clients from configuration when the registry is empty.
// Returns the number of clients created.
func (s *Service) SeedClients(ctx context.Context, seeds []ClientInput) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_clients").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting api clients: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	created := 0
	for _, in := range seeds {
		in.WithAppToken = false
		if _, _, err := s.CreateClient(ctx, in); err != nil {
			return created, fmt.Errorf("seeding client %q: %w", in.Name, err)
		}
		created++
	}
	return created, nil
}

// APIEnabled reports the stored API-enabled flag. An unset flag reads as
// enabled.
func (s *Service) APIEnabled(ctx context.Context) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, settingAPIEnabled).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading api flag: %w", err)
	}
	b, _ := strconv.ParseBool(v)
	return b, nil
}

// SetAPIEnabled stores the API-enabled flag.
func (s *Service) SetAPIEnabled(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, settingAPIEnabled, strconv.FormatBool(enabled), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing api flag: %w", err)
	}
	return nil
}

// SeedAPIEnabled stores the flag only if it was never set.
func (s *Service) SeedAPIEnabled(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	`, settingAPIEnabled, strconv.FormatBool(enabled), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("seeding api flag: %w", err)
	}
	return nil
}

func (s *Service) queryClients(ctx context.Context, query string, args ...any) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying api clients: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	clients := []Client{}
	for rows.Next() {
		var c Client
		var start, end sql.NullInt64
		var ipv6, hash sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.IsActive, &start, &end, &ipv6, &hash,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning api client: %w", err)
		}
		c.IPv4Start, c.IPv4End = formatIPv4(start), formatIPv4(end)
		c.IPv6 = ipv6.String
		c.tokenHash = hash.String
		c.HasAppToken = hash.Valid && hash.String != ""
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// parseIPv4Range validates an inclusive range. An empty start leaves the
// range unset and an empty end defaults to the start.
func parseIPv4Range(start, end string) (sql.NullInt64, sql.NullInt64, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" {
		if end != "" {
			return sql.NullInt64{}, sql.NullInt64{}, errors.New("ipv4 range end requires a start")
		}
		return sql.NullInt64{}, sql.NullInt64{}, nil
	}
	if end == "" {
		end = start
	}
	a, err := netip.ParseAddr(start)
	if err != nil || !a.Is4() {
		return sql.NullInt64{}, sql.NullInt64{}, fmt.Errorf("invalid ipv4 address %q", start)
	}
	b, err := netip.ParseAddr(end)
	if err != nil || !b.Is4() {
		return sql.NullInt64{}, sql.NullInt64{}, fmt.Errorf("invalid ipv4 address %q", end)
	}
	lo, hi := ipv4ToInt(a), ipv4ToInt(b)
	if lo > hi {
		return sql.NullInt64{}, sql.NullInt64{}, errors.New("ipv4 range start is after its end")
	}
	return sql.NullInt64{Int64: lo, Valid: true}, sql.NullInt64{Int64: hi, Valid: true}, nil
}

func parseIPv6(s string) (sql.NullString, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil || !a.Is6() || a.Is4In6() {
		return sql.NullString{}, fmt.Errorf("invalid ipv6 address %q", s)
	}
	return sql.NullString{String: a.String(), Valid: true}, nil
}

func ipv4ToInt(a netip.Addr) int64 {
	b := a.As4()
	return int64(binary.BigEndian.Uint32(b[:]))
}

func formatIPv4(n sql.NullInt64) string {
	if !n.Valid {
		return ""
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n.Int64)) //nolint:gosec // stored from a uint32
	return netip.AddrFrom4(b).String()
}

// prehashToken hashes the token with SHA-256 before bcrypt so inputs stay
// within bcrypt's 72-byte limit.
func prehashToken(token string) []byte {
	h := sha256.Sum256([]byte(token))
	return []byte(hex.EncodeToString(h[:]))
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
