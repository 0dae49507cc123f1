package scim

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query holds the search parameters for /Users
type Query struct {
	Filter     string
	Attributes []string
	SortBy     string
	SortOrder  string
	StartIndex int
	Count      int
}

// Values encodes the query as URL parameters
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Filter != "" {
		v.Set("filter", q.Filter)
	}
	if len(q.Attributes) > 0 {
		v.Set("attributes", strings.Join(q.Attributes, ","))
	}
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("sortOrder", q.SortOrder)
	}
	if q.StartIndex > 0 {
		v.Set("startIndex", strconv.Itoa(q.StartIndex))
	}
	if q.Count > 0 {
		v.Set("count", strconv.Itoa(q.Count))
	}
	return v
}

// String implements fmt.Stringer, used in log lines
func (q Query) String() string {
	return q.Values().Encode()
}

// EqualsFilter builds `attr eq "value"`
func EqualsFilter(attr, value string) string {
	return fmt.Sprintf("%s eq %s", attr, quote(value))
}

// PresentFilter builds `attr pr`
func PresentFilter(attr string) string {
	return attr + " pr"
}

// ExtensionPath returns the fully qualified attribute name of an extension field
func ExtensionPath(urn, field string) string {
	return urn + ":" + field
}

func quote(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(value) + `"`
}
