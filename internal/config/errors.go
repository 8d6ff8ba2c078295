package config

import "fmt"

// FieldError 描述一个非法配置字段。Instance 非空时字段属于对应的 [[Instance]]。
type FieldError struct {
	Instance string
	Field    string
	Reason   string
	Err      error
}

func (e FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Path(), e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path(), e.Reason)
}

// Path 返回 Global.X 或 Instance[id].X 形式的字段路径。
func (e FieldError) Path() string {
	if e.Instance == "" {
		return e.Field
	}
	return fmt.Sprintf("Instance[%s].%s", e.Instance, e.Field)
}

func (e FieldError) Unwrap() error {
	return e.Err
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// newInstanceError 用于实例级字段；cause 非空时保留原始错误供 errors.Is 判断。
func newInstanceError(id, field, reason string, cause error) error {
	return FieldError{Instance: id, Field: field, Reason: reason, Err: cause}
}
