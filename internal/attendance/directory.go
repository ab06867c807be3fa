package attendance

import "strings"

// Defaults substituted for missing directory fields.
const (
	UnknownName = "Unknown Name"
	MissingRoll = "N/A"
)

// projectStudent is the single place where directory gaps are filled.
// It never fails; every substitution is returned for the Observer.
func projectStudent(st Student) (name, roll string, gaps []*PartialDirectoryDataError) {
	name = strings.TrimSpace(st.Name)
	if name == "" {
		if local, _, ok := strings.Cut(st.Email, "@"); ok && local != "" {
			name = local
		} else {
			name = UnknownName
		}
		gaps = append(gaps, &PartialDirectoryDataError{StudentID: st.ID, Field: "name", Default: name})
	}
	roll = strings.TrimSpace(st.RollNo)
	if roll == "" {
		roll = MissingRoll
		gaps = append(gaps, &PartialDirectoryDataError{StudentID: st.ID, Field: "rollNo", Default: roll})
	}
	return name, roll, gaps
}
