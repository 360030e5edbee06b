package repo

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Date stores timestamps as RFC3339 text in sqlite while marshalling as a
// plain time.Time in JSON.
type Date time.Time

func (d Date) Value() (driver.Value, error) {
	return time.Time(d).Format(time.RFC3339), nil
}

func (d *Date) Scan(value any) error {
	if value == nil {
		*d = Date(time.Time{})
		return nil
	}

	switch v := value.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			t, err = time.Parse("2006-01-02 15:04:05", v)
			if err != nil {
				return err
			}
		}
		*d = Date(t)
		return nil
	case time.Time:
		*d = Date(v)
		return nil
	default:
		return fmt.Errorf("cannot scan type %T into Date", value)
	}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(d))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	*d = Date(t)
	return nil
}

func (d Date) Time() time.Time {
	return time.Time(d)
}
