package models

import "time"

// RetryQueueItem оборачивает операцию, не дошедшую до бэкенда,
// метаданными экспоненциального backoff.
// Инвариант: NextRetry = LastAttempt + min(initialDelay*2^Attempts, maxDelay).
type RetryQueueItem struct {
	AddedAt     time.Time `json:"added_at"`
	LastAttempt time.Time `json:"last_attempt"`
	NextRetry   time.Time `json:"next_retry"`
	Error       string    `json:"error"`
	Operation   Operation `json:"operation"`
	Attempts    int       `json:"attempts"`
}

// DeadLetterItem — перманентно провалившаяся операция,
// исключенная из автоматических повторов. Требует ручной обработки.
type DeadLetterItem struct {
	AddedAt   time.Time `json:"added_at"`  // когда операция впервые попала в очередь
	FailedAt  time.Time `json:"failed_at"` // когда исчерпан retry budget
	Error     string    `json:"error"`
	Operation Operation `json:"operation"`
	Attempts  int       `json:"attempts"`
}

// QueueStats — статистика очереди повторов для панели состояния
type QueueStats struct {
	OldestRetry *time.Time `json:"oldest_retry,omitempty"`
	Total       int        `json:"total"`
	Ready       int        `json:"ready"`
	Waiting     int        `json:"waiting"`
}
