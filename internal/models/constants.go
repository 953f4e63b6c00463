package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// TableBookings is the only remote table the sync queue targets.
const TableBookings = "bookings"

const (
	// DefaultRedisTTL время жизни состояния синхронизации в Redis
	DefaultRedisTTL = 24 * 60 * 60 // 24 часа в секундах

	// DefaultProbeInterval интервал проверки соединения в секундах
	DefaultProbeInterval = 15

	// DefaultDrainBatchSize максимум записей очереди за один проход
	DefaultDrainBatchSize = 100

	// PaymentRateLimit количество попыток оплаты в окне
	PaymentRateLimit = 5

	// PaymentRateWindow окно ограничения попыток оплаты
	PaymentRateWindow = 60 // 1 минута в секундах
)
