package domain

// Unit is a truck (or any mobile unit) that runs checklists.
type Unit struct {
	ID           string
	OrgID        string
	Name         string
	LicensePlate string
	TimeZone     string
}

// TemplateItem is one line of a checklist template.
type TemplateItem struct {
	ID         string
	TemplateID string
	Label      string
	Kind       string
	Required   bool
	SortOrder  int
}
