package addon

import (
	"errors"
	"fmt"
	"strings"

	"github.com/comicshelf/pagemask/internal/helper"
	"github.com/comicshelf/pagemask/proxy"
	"github.com/samber/lo"
	"github.com/tidwall/match"
)

// DefaultMarker is the path segment of page and thumbnail urls.
const DefaultMarker = "/comic/"

// Rule selects the flows whose response body is masked.
//
// A marker containing * is a glob over the whole url (where ? also matches
// any one character), anything else must appear in the url as a substring.
// Query strings make ? common in plain markers, so it alone never turns a
// marker into a glob. When Hosts is not empty the url
// host must also match one of them (see helper.MatchHost).
type Rule struct {
	Marker string   `json:"marker"`
	Hosts  []string `json:"hosts"`
}

func (r *Rule) isGlob() bool {
	return strings.Contains(r.Marker, "*")
}

func (r *Rule) match(req *proxy.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if len(r.Hosts) > 0 && !helper.MatchHost(req.URL.Host, r.Hosts) {
		return false
	}
	u := req.URL.String()
	if r.isGlob() {
		return match.Match(u, r.Marker)
	}
	return strings.Contains(u, r.Marker)
}

func (r *Rule) String() string {
	if len(r.Hosts) == 0 {
		return r.Marker
	}
	return fmt.Sprintf("%v@%v", r.Marker, strings.Join(r.Hosts, ","))
}

// NewRules builds one rule per distinct marker, all restricted to hosts.
func NewRules(markers []string, hosts []string) []*Rule {
	markers = lo.Uniq(lo.Filter(lo.Map(markers, func(m string, _ int) string {
		return strings.TrimSpace(m)
	}), func(m string, _ int) bool {
		return m != ""
	}))
	hosts = lo.Uniq(lo.Without(hosts, ""))

	return lo.Map(markers, func(m string, _ int) *Rule {
		return &Rule{Marker: m, Hosts: hosts}
	})
}

func validateRules(rules []*Rule) error {
	if len(rules) == 0 {
		return errors.New("no mask rule")
	}
	for i, rule := range rules {
		if rule == nil {
			return fmt.Errorf("%v nil rule", i)
		}
		if rule.Marker == "" {
			return fmt.Errorf("%v empty marker", i)
		}
		if lo.Contains(rule.Hosts, "") {
			return fmt.Errorf("%v empty host", i)
		}
	}
	return nil
}
