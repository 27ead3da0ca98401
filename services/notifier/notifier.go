package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

var (
	ErrContactNotFound = errors.New("no contact details for principal")
	ErrNoAddress       = errors.New("principal has no address for this channel")
)

// Notifier delivers a freshly issued plaintext code to its principal. It is
// called by whoever issued the challenge, never by the verification engine.
type Notifier interface {
	Notify(ctx context.Context, principalID, code string, expiresAt time.Time) error
}

// Contact holds where a principal's codes are delivered.
type Contact struct {
	ID          uint      `json:"id" gorm:"primarykey"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PrincipalID string    `json:"principal_id" gorm:"uniqueIndex;size:255;not null"`
	Email       string    `json:"email" gorm:"size:255"`
	Phone       string    `json:"phone" gorm:"size:32"`
}

func (Contact) TableName() string {
	return "principal_contacts"
}

type Directory interface {
	Lookup(ctx context.Context, principalID string) (Contact, error)
}

type MapDirectory struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewMapDirectory(contacts ...Contact) *MapDirectory {
	d := &MapDirectory{contacts: make(map[string]Contact, len(contacts))}
	for _, c := range contacts {
		d.contacts[c.PrincipalID] = c
	}
	return d
}

func (d *MapDirectory) Lookup(ctx context.Context, principalID string) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.contacts[principalID]
	if !ok {
		return Contact{}, ErrContactNotFound
	}
	return c, nil
}

func (d *MapDirectory) Save(ctx context.Context, c Contact) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.contacts[c.PrincipalID] = c
	return nil
}

type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) Lookup(ctx context.Context, principalID string) (Contact, error) {
	var c Contact
	if err := d.db.WithContext(ctx).Where("principal_id = ?", principalID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Contact{}, ErrContactNotFound
		}
		return Contact{}, fmt.Errorf("failed to look up contact: %w", err)
	}
	return c, nil
}

func (d *GormDirectory) Save(ctx context.Context, c Contact) error {
	var existing Contact
	err := d.db.WithContext(ctx).Where("principal_id = ?", c.PrincipalID).First(&existing).Error
	switch {
	case err == nil:
		existing.Email = c.Email
		existing.Phone = c.Phone
		return d.db.WithContext(ctx).Save(&existing).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return d.db.WithContext(ctx).Create(&c).Error
	default:
		return fmt.Errorf("failed to look up contact: %w", err)
	}
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string, time.Time) error {
	return nil
}

// Observer is told about every delivery attempt.
type Observer interface {
	NotificationSent(channel string, err error)
}

type observed struct {
	Notifier
	channel  string
	observer Observer
}

// Observe wraps n so each Notify result is reported to o under channel.
func Observe(n Notifier, channel string, o Observer) Notifier {
	if o == nil {
		return n
	}
	return &observed{Notifier: n, channel: channel, observer: o}
}

func (o *observed) Notify(ctx context.Context, principalID, code string, expiresAt time.Time) error {
	err := o.Notifier.Notify(ctx, principalID, code, expiresAt)
	o.observer.NotificationSent(o.channel, err)
	return err
}

func formatRemaining(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
