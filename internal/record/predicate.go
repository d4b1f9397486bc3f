package record

// Predicate selects records in log queries.
type Predicate func(Record) bool

// MatchAll matches every record.
func MatchAll(Record) bool { return true }

// HasOrganisation matches records that carry an organisation id.
func HasOrganisation(r Record) bool { return r.Session().OrganisationID != "" }

// HasUser matches records that carry a user id.
func HasUser(r Record) bool { return r.Session().UserID != "" }

// HasLanguage matches records that carry a language.
func HasLanguage(r Record) bool { return r.Session().Language != "" }

// HasSubdomain matches records that carry a subdomain.
func HasSubdomain(r Record) bool { return r.Session().Subdomain != "" }

// ModuleSession matches ModuleSessionStarted records with the given id.
func ModuleSession(id string) Predicate {
	return func(r Record) bool {
		a, ok := As[ModuleSessionStarted](r)
		return ok && a.ModuleSessionID == id
	}
}

// After matches records appended after seq.
func After(seq int64) Predicate {
	return func(r Record) bool { return r.Seq > seq }
}

// And matches records satisfying every predicate.
func And(preds ...Predicate) Predicate {
	return func(r Record) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}
