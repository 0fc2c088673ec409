package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm/schema"

	"github.com/BaSui01/datalayer/types"
)

// =============================================================================
// ✅ 实体校验
// =============================================================================

// Validator 是追加在基础校验之后的领域校验钩子。
// 返回的非 types.Error 错误会被包装为 VALIDATION。
type Validator[T any] func(ctx context.Context, entity *T) error

// structValidator 基础校验：执行实体上的 validate 结构体标签
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate 先执行基础校验，再按注册顺序执行钩子链，遇到第一个错误即返回
func (r *Repository[T, ID]) validate(ctx context.Context, entity *T) error {
	if err := baseValidate(ctx, entity); err != nil {
		return err
	}
	for _, v := range r.validators {
		if err := v(ctx, entity); err != nil {
			if _, ok := types.AsError(err); ok {
				return err
			}
			return types.NewError(types.ErrValidation, err.Error()).WithCause(err)
		}
	}
	return nil
}

// baseValidate 先执行 validate 标签，再拒绝没有任何内容的实体
func baseValidate(ctx context.Context, entity any) error {
	if reflect.Indirect(reflect.ValueOf(entity)).Kind() != reflect.Struct {
		return nil
	}
	if err := tagValidate(ctx, entity); err != nil {
		return err
	}
	return requireContent(ctx, entity)
}

func tagValidate(ctx context.Context, entity any) error {
	err := structValidator.StructCtx(ctx, entity)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewError(types.ErrValidation, "entity validation failed").WithCause(err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return types.Errorf(types.ErrValidation, "invalid entity: %s", strings.Join(msgs, "; ")).
		WithField(strings.ToLower(fieldErrs[0].Field())).
		WithCause(err)
}

// entitySchemas 缓存实体的 GORM schema，仅用于字段属性判断
var entitySchemas sync.Map

// requireContent 在主键、自动时间戳与软删除列之外的字段全部为零值时返回 VALIDATION
func requireContent(ctx context.Context, entity any) error {
	sch, err := schema.Parse(entity, &entitySchemas, schema.NamingStrategy{})
	if err != nil {
		// 非 GORM 模型交由写入阶段报错
		return nil
	}

	rv := reflect.Indirect(reflect.ValueOf(entity))
	checked := 0
	for _, f := range sch.Fields {
		if f.DBName == "" || f.PrimaryKey || f.AutoCreateTime > 0 || f.AutoUpdateTime > 0 || f.Name == "DeletedAt" {
			continue
		}
		checked++
		if _, zero := f.ValueOf(ctx, rv); !zero {
			return nil
		}
	}
	if checked == 0 {
		return nil
	}
	return types.Errorf(types.ErrValidation, "%s has no field values", sch.Name)
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min", "gte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must not exceed %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must not exceed %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: %s:%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: %s", field, fe.Tag())
}
