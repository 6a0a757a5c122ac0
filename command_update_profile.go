package paygate

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// UpdateProfileMessage carries a partial profile update. Nil fields are left
// untouched. Financial fields (tier, payment amount, payment state) and the
// email address are not reachable from here.
type UpdateProfileMessage struct {
	UserID       uuid.UUID `json:"-"`
	Name         *string   `json:"name"`
	Phone        *string   `json:"phone_number"`
	Age          *int      `json:"age"`
	Profession   *string   `json:"profession"`
	Hobbies      *[]string `json:"hobbies"`
	ProfilePhoto *string   `json:"profile_photo"`
	Password     *string   `json:"password"`
}

func (e UpdateProfileMessage) Type() string { return "user.profile.update" }

// UpdateProfileHandler applies partial profile updates through the store's
// serialized update path, so concurrent edits to the same account never
// interleave and each one lands on the latest snapshot.
type UpdateProfileHandler struct {
	store  Users
	logger Logger
}

// NewUpdateProfileHandler builds the handler.
func NewUpdateProfileHandler(store Users) *UpdateProfileHandler {
	return &UpdateProfileHandler{
		store:  store,
		logger: defLogger{},
	}
}

func (h *UpdateProfileHandler) WithLogger(logger Logger) *UpdateProfileHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// UpdateProfile mutates the whitelisted fields and returns the post-write
// snapshot.
func (h *UpdateProfileHandler) UpdateProfile(ctx context.Context, event UpdateProfileMessage) (*User, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during profile update",
		)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	return h.store.ApplyUpdate(ctx, event.UserID, func(user *User) error {
		if event.Name != nil {
			user.Name = strings.TrimSpace(*event.Name)
		}
		if event.Phone != nil {
			user.Phone = NormalizePhone(*event.Phone, DefaultPhoneRegion)
		}
		if event.Age != nil {
			user.Age = *event.Age
		}
		if event.Profession != nil {
			user.Profession = strings.TrimSpace(*event.Profession)
		}
		if event.Hobbies != nil {
			user.Hobbies = append([]string(nil), (*event.Hobbies)...)
		}
		if event.ProfilePhoto != nil {
			user.ProfilePhoto = *event.ProfilePhoto
		}
		if event.Password != nil {
			if err := h.applyPassword(user, *event.Password); err != nil {
				return err
			}
		}
		return nil
	})
}

// applyPassword stores the new credential. Input that already carries a
// bcrypt prefix is kept verbatim so a hash is never hashed twice.
func (h *UpdateProfileHandler) applyPassword(user *User, password string) error {
	if IsHashed(password) {
		user.PasswordHash = password
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return nil
}
