package orm

import "github.com/pkg/errors"

// ErrConfiguration 实体声明错误，在 Schema 构建时返回，此时还没有任何实例
var ErrConfiguration = errors.New("orm configuration error")

var (
	ErrPrimaryKeyNotFound   = errors.WithMessage(ErrConfiguration, "primary key not found")
	ErrDuplicatePrimaryKey  = errors.WithMessage(ErrConfiguration, "duplicate primary key")
	ErrPrimaryKeyNotAllowed = errors.WithMessage(ErrConfiguration, "field type cannot be primary key")
	ErrDuplicateField       = errors.WithMessage(ErrConfiguration, "duplicate field")
	ErrUnknownFactory       = errors.WithMessage(ErrConfiguration, "unknown default factory")
	ErrInvalidTag           = errors.WithMessage(ErrConfiguration, "invalid orm tag")
)

var (
	ErrUnknownField   = errors.New("unknown field")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrRecordNotFound = errors.New("record not found")
)
