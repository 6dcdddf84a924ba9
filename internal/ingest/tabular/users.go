package tabular

import (
	"strconv"
	"strings"
)

// DefaultPasswordPrefix seeds generated passwords when rows leave them empty.
const DefaultPasswordPrefix = "safal"

// UserRow is one student parsed from a bulk user sheet.
type UserRow struct {
	Username    string
	DisplayName string
	Password    string
}

// ParseUsers reads Username, Display name, Password rows. The display name
// defaults to the username and the password to prefix followed by the
// 1-based row number. A first row whose username cell reads "username" is
// treated as a header.
func ParseUsers(rows [][]string, prefix string) []UserRow {
	if prefix == "" {
		prefix = DefaultPasswordPrefix
	}
	var out []UserRow
	for i, row := range rows {
		username := strings.ToLower(cell(row, 0))
		if username == "" || (i == 0 && username == "username") {
			continue
		}
		u := UserRow{
			Username:    username,
			DisplayName: cell(row, 1),
			Password:    cell(row, 2),
		}
		if u.DisplayName == "" {
			u.DisplayName = username
		}
		if u.Password == "" {
			u.Password = prefix + strconv.Itoa(i+1)
		}
		out = append(out, u)
	}
	return out
}
