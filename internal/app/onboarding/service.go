package onboarding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/ports"
)

var (
	ErrInvalidUsername = errors.New("username must be 2-32 letters, digits, '_' or '-'")
	ErrUsernameTaken   = errors.New("username taken")
)

const friendlyNameAttempts = 5

var usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{2,32}$`)

// Result captures non-fatal onboarding outcomes.
type Result struct {
	Profile domain.Profile
	// ProfileUpdateErr is set when renaming the platform account failed but the profile was created.
	ProfileUpdateErr error
}

// Service creates player profiles.
type Service struct {
	profiles ports.ProfileStore
	accounts ports.AccountPort
	rng      *rand.Rand
	now      func() time.Time
}

// NewService constructs an onboarding service. accounts may be nil when profiles are not
// backed by platform accounts; rng may be nil to use a time-seeded default.
func NewService(profiles ports.ProfileStore, accounts ports.AccountPort, rng *rand.Rand) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{profiles: profiles, accounts: accounts, rng: rng, now: time.Now}
}

// Register creates a profile with a chosen username. The id is the username unless the
// caller supplies one.
func (s *Service) Register(ctx context.Context, id, username, firstName string) (domain.Profile, error) {
	name := domain.NormalizeUsername(username)
	if !usernamePattern.MatchString(name) {
		return domain.Profile{}, ErrInvalidUsername
	}
	if id == "" {
		id = name
	}
	p := domain.Profile{
		ID:        id,
		Username:  name,
		FirstName: strings.TrimSpace(firstName),
		CreatedAt: s.now().UTC(),
	}
	if err := s.profiles.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, ports.ErrAlreadyExists) {
			return domain.Profile{}, ErrUsernameTaken
		}
		return domain.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return p, nil
}

// OnboardNewUser gives a freshly authenticated account a generated username and profile.
// Renaming the platform account is best-effort and reported in Result.
func (s *Service) OnboardNewUser(ctx context.Context, userID string) (Result, error) {
	if s.profiles == nil {
		return Result{}, fmt.Errorf("onboarding service not configured")
	}

	var (
		p   domain.Profile
		err error
	)
	for range friendlyNameAttempts {
		p, err = s.Register(ctx, userID, s.generateFriendlyName(), "")
		if !errors.Is(err, ErrUsernameTaken) {
			break
		}
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to create profile: %w", err)
	}

	result := Result{Profile: p}
	if s.accounts != nil {
		if err := s.accounts.UpdateProfile(ctx, userID, p.Username, p.Username); err != nil {
			result.ProfileUpdateErr = err
		}
	}
	return result, nil
}

func (s *Service) generateFriendlyName() string {
	adjectives := []string{"happy", "shiny", "brave", "clever", "swift", "calm", "mighty", "witty", "sly", "wild"}
	nouns := []string{"panda", "tiger", "eagle", "dolphin", "wolf", "otter", "falcon", "bear", "fox", "lion"}

	adj := adjectives[s.rng.Intn(len(adjectives))]
	noun := nouns[s.rng.Intn(len(nouns))]
	num := s.rng.Intn(9000) + 1000

	return fmt.Sprintf("%s%s%d", adj, noun, num)
}
