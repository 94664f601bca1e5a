package uid

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StrGenerator 生成字符串 ID 的接口
type StrGenerator interface {
	Generate() string
}

type UUIDOptions struct {
	// UUID 版本：v4, v7
	Version string `cfg:"version" def:"v4" validate:"omitempty,oneof=v4 v7"`
	// 是否包含连字符，默认不包含
	WithHyphens bool `cfg:"withHyphens"`
}

type UUIDGenerator struct {
	version     string
	withHyphens bool
}

func NewUUIDGeneratorWithOptions(options *UUIDOptions) *UUIDGenerator {
	if options == nil {
		options = &UUIDOptions{}
	}
	return &UUIDGenerator{
		version:     options.Version,
		withHyphens: options.WithHyphens,
	}
}

func (g *UUIDGenerator) Generate() string {
	var u uuid.UUID
	switch g.version {
	case "v7":
		u = uuid.Must(uuid.NewV7())
	default:
		u = uuid.New()
	}

	if g.withHyphens {
		return u.String()
	}
	return hex.EncodeToString(u[:])
}

// TimeOrderedGenerator 生成 50 位主键：15 位毫秒时间戳 + 32 位 uuid4 十六进制 + "000"
// 同一毫秒内不保证顺序，仅按时间前缀粗略有序
type TimeOrderedGenerator struct {
	uuid *UUIDGenerator
	now  func() time.Time
}

func NewTimeOrderedGenerator() *TimeOrderedGenerator {
	return &TimeOrderedGenerator{
		uuid: NewUUIDGeneratorWithOptions(&UUIDOptions{Version: "v4"}),
		now:  time.Now,
	}
}

func (g *TimeOrderedGenerator) Generate() string {
	return fmt.Sprintf("%015d%s000", g.now().UnixMilli(), g.uuid.Generate())
}

var defaultGenerator = NewTimeOrderedGenerator()

// NextID 生成一个新的时间有序主键
func NextID() string {
	return defaultGenerator.Generate()
}
