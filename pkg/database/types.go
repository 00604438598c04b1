package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringArray is a string slice stored as a JSON text column, portable across
// postgres, mysql and sqlite.
type StringArray []string

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("StringArray: unsupported scan type %T", value)
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, a)
}

// Value implements driver.Valuer. Nil and empty arrays are stored as "[]".
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType returns the gorm data type hint.
func (StringArray) GormDataType() string {
	return "text"
}
