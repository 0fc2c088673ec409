// =============================================================================
// 📦 测试数据工厂 - 实体模型
// =============================================================================
// 提供仓储测试使用的 GORM 实体与样例数据
// =============================================================================
package fixtures

import (
	"fmt"
	"time"
)

// =============================================================================
// 👤 User
// =============================================================================

// User 测试实体：唯一邮箱、必填名称
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" validate:"required,max=100"`
	Email     string    `gorm:"size:255;not null;uniqueIndex" json:"email" validate:"required,email"`
	Age       int       `gorm:"not null;default:0" json:"age" validate:"gte=0,lte=150"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser 返回第 i 个样例用户（未持久化）
func NewUser(i int) User {
	return User{
		Name:   fmt.Sprintf("user-%03d", i),
		Email:  fmt.Sprintf("user%03d@example.com", i),
		Age:    20 + i%50,
		Active: true,
	}
}

// Users 返回 n 个样例用户
func Users(n int) []User {
	out := make([]User, n)
	for i := range out {
		out[i] = NewUser(i)
	}
	return out
}

// =============================================================================
// 🏷️ Product
// =============================================================================

// Product 测试实体：唯一 SKU，按 SKU 排序
type Product struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	SKU        string `gorm:"size:32;not null;uniqueIndex" json:"sku" validate:"required"`
	Name       string `gorm:"size:200;not null" json:"name" validate:"required"`
	PriceCents int64  `gorm:"not null" json:"price_cents" validate:"gte=0"`
	Stock      int    `gorm:"not null;default:0" json:"stock"`
}

// OrderBy 使分页按 SKU 稳定排序
func (Product) OrderBy() string { return "sku" }

// NewProduct 返回第 i 个样例商品（未持久化）
func NewProduct(i int) Product {
	return Product{
		SKU:        fmt.Sprintf("SKU-%05d", i),
		Name:       fmt.Sprintf("product %d", i),
		PriceCents: int64(100 * (i + 1)),
		Stock:      i % 7,
	}
}

// =============================================================================
// 📝 Note
// =============================================================================

// Note 测试实体：不带 validate 标签，只受基础的非空校验约束
type Note struct {
	ID        uint `gorm:"primaryKey"`
	Title     string
	Body      string
	Pinned    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
