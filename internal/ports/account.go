package ports

import "context"

// AccountPort renames the platform account backing a profile.
type AccountPort interface {
	// UpdateProfile sets the account username and display name for userID.
	UpdateProfile(ctx context.Context, userID, username, displayName string) error
}
