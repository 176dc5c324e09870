package database

import (
	"context"
	"time"

	"github.com/johanake/voxera/internal/database/models"
)

// UserRepository manages softphone users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByExtension(ctx context.Context, extension string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

// PhoneNumberRepository manages provisioned carrier numbers.
type PhoneNumberRepository interface {
	Create(ctx context.Context, num *models.PhoneNumber) error
	GetByID(ctx context.Context, id int64) (*models.PhoneNumber, error)
	GetByNumber(ctx context.Context, number string) (*models.PhoneNumber, error)
	List(ctx context.Context) ([]models.PhoneNumber, error)
	Update(ctx context.Context, num *models.PhoneNumber) error
	Delete(ctx context.Context, id int64) error
}

// CallFlowRepository manages routing flow graphs.
type CallFlowRepository interface {
	Create(ctx context.Context, flow *models.CallFlow) error
	GetByID(ctx context.Context, id int64) (*models.CallFlow, error)
	List(ctx context.Context) ([]models.CallFlow, error)
	Update(ctx context.Context, flow *models.CallFlow) error
	SetPublished(ctx context.Context, id int64, published bool) error
	Delete(ctx context.Context, id int64) error
}

// CallEndUpdate carries the fields a carrier status callback may set on
// an existing history record.
type CallEndUpdate struct {
	EndTime      *time.Time // nil leaves the column unchanged
	DurationSecs int
	Disposition  string
	HangupCause  string
	RecordingURL string
}

// CallHistoryListFilter narrows and pages call-history queries.
// StartDate is an inclusive lower bound on start_time, EndDate an
// exclusive upper bound; both compare lexically against the stored
// timestamp, so pass date or datetime strings.
type CallHistoryListFilter struct {
	Direction string
	Search    string
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// CallHistoryRepository persists completed call attempts.
type CallHistoryRepository interface {
	Create(ctx context.Context, rec *models.CallRecord) error
	GetByID(ctx context.Context, id int64) (*models.CallRecord, error)
	GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error)
	UpdateByCarrierID(ctx context.Context, carrierCallID string, upd CallEndUpdate) error
	List(ctx context.Context, filter CallHistoryListFilter) ([]models.CallRecord, int, error)
	CountByDirection(ctx context.Context) (map[string]int64, error)
	CountByDisposition(ctx context.Context) (map[string]int64, error)
}

// SystemConfigRepository manages key-value system configuration.
type SystemConfigRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) ([]models.SystemConfig, error)
}
