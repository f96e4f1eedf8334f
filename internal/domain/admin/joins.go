package admin

import (
	"sort"
	"strings"

	"evalportal/internal/domain/charts"
	"evalportal/internal/upstream"
)

// CompanyOf returns the company a site belongs to.
func CompanyOf(site upstream.Site, companies []upstream.Company) (upstream.Company, bool) {
	for _, c := range companies {
		if c.ID == site.CompanyID {
			return c, true
		}
	}
	return upstream.Company{}, false
}

// SitesOf filters sites by company, keeping their order.
func SitesOf(companyID int64, sites []upstream.Site) []upstream.Site {
	out := []upstream.Site{}
	for _, s := range sites {
		if s.CompanyID == companyID {
			out = append(out, s)
		}
	}
	return out
}

func CompanyViews(companies []upstream.Company, sites []upstream.Site) []CompanyView {
	out := make([]CompanyView, 0, len(companies))
	for _, c := range companies {
		out = append(out, CompanyView{Company: c, Sites: SitesOf(c.ID, sites)})
	}
	return out
}

func SiteViews(sites []upstream.Site, companies []upstream.Company) []SiteView {
	out := make([]SiteView, 0, len(sites))
	for _, s := range sites {
		view := SiteView{Site: s}
		if c, ok := CompanyOf(s, companies); ok {
			view.Company = c.Name
		}
		out = append(out, view)
	}
	return out
}

func Overview(competencies []upstream.Competency) CompetencyOverview {
	groups := charts.GroupByType(competencies)
	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)
	if competencies == nil {
		competencies = []upstream.Competency{}
	}
	return CompetencyOverview{
		Competencies: competencies,
		Types:        types,
		ByType:       charts.CompetencyTypes(competencies),
	}
}

// FilterUsers applies the user page's search bar: a case-insensitive match on
// document, name or email plus optional profile and company filters.
func FilterUsers(users []upstream.User, term string, profileID int, companyID int64) []upstream.User {
	term = strings.ToLower(strings.TrimSpace(term))
	out := []upstream.User{}
	for _, u := range users {
		if profileID > 0 && u.ProfileID != profileID {
			continue
		}
		if companyID > 0 && !worksAt(u, companyID) {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(u.Document), term) &&
			!strings.Contains(strings.ToLower(u.Name), term) &&
			!strings.Contains(strings.ToLower(u.Email), term) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func worksAt(u upstream.User, companyID int64) bool {
	for _, c := range u.Companies {
		if c.CompanyID == companyID {
			return true
		}
	}
	return false
}
