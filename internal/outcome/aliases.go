package outcome

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"adoptnotify/internal/types"
)

// ErrMalformedEvent marks an upstream record that cannot be scheduled:
// it has no animal id or no parseable adoption date.
var ErrMalformedEvent = types.NewAppError(types.ErrCodeValidationMalformedEvent, "malformed adoption event", nil)

// fieldPath addresses a value in a raw record. Multi-element paths descend
// into nested objects, e.g. {"animal", "ID"}.
type fieldPath []string

// Ordered fallbacks per logical field. The first non-empty value wins.
// ASM methods differ in shape: json_recent_adoptions returns flat movement
// rows, others nest the animal or use lower-case keys.
var (
	animalIDAliases   = []fieldPath{{"ID"}, {"animal", "ID"}, {"animal_id"}}
	animalNameAliases = []fieldPath{{"ANIMALNAME"}, {"animal", "ANIMALNAME"}, {"animal_name"}}
	speciesAliases    = []fieldPath{{"SPECIESNAME"}, {"animal", "SPECIESNAME"}, {"species"}}
	adoptionDateAlias = []fieldPath{{"ADOPTIONDATE"}, {"MOVEMENTDATE"}, {"date"}, {"adoption_date"}}
	ownerEmailAliases = []fieldPath{{"CURRENTOWNEREMAILADDRESS"}, {"owner_email"}, {"new_owner_email"}}
)

// Accepted adoption date layouts after normalisation ('T' replaced by a
// space, trailing 'Z' dropped).
var dateLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// lookup returns the first non-empty value found under paths.
func lookup(raw types.RawEvent, paths []fieldPath) string {
	for _, p := range paths {
		if v := stringAt(raw, p); v != "" {
			return v
		}
	}
	return ""
}

func stringAt(raw map[string]any, p fieldPath) string {
	var cur any = raw
	for _, key := range p {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	return scalarString(cur)
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeDate converts ISO-ish upstream dates into the space-separated form
// used for keys and parsing.
func normalizeDate(s string) string {
	s = strings.Replace(strings.TrimSpace(s), "T", " ", 1)
	return strings.TrimSuffix(s, "Z")
}

// ParseAdoptionDate parses a normalised upstream date in loc.
func ParseAdoptionDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// AdoptionKey is the hex SHA-1 of "<prefix>|<animal>|<date>|<identifier>".
func AdoptionKey(prefix, animalID, date, identifier string) string {
	sum := sha1.Sum([]byte(prefix + "|" + animalID + "|" + date + "|" + identifier))
	return hex.EncodeToString(sum[:])
}

// ParseEvent maps one upstream record onto an AdoptionEvent through the alias
// table. Records without an animal id or a usable date return an error
// wrapping ErrMalformedEvent.
func ParseEvent(raw types.RawEvent, loc *time.Location) (*types.AdoptionEvent, error) {
	animalID := lookup(raw, animalIDAliases)
	if animalID == "" {
		return nil, fmt.Errorf("%w: missing animal id", ErrMalformedEvent)
	}

	date := normalizeDate(lookup(raw, adoptionDateAlias))
	if date == "" {
		return nil, fmt.Errorf("%w: animal %s has no adoption date", ErrMalformedEvent, animalID)
	}
	adopted, err := ParseAdoptionDate(date, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: animal %s: %v", ErrMalformedEvent, animalID, err)
	}

	owner := NormalizeEmail(lookup(raw, ownerEmailAliases))

	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: animal %s: %v", ErrMalformedEvent, animalID, err)
	}

	return &types.AdoptionEvent{
		AdoptionKey:   AdoptionKey("adoption", animalID, date, owner),
		AnimalID:      animalID,
		AnimalName:    lookup(raw, animalNameAliases),
		Species:       lookup(raw, speciesAliases),
		AdoptionDate:  adopted,
		NewOwnerEmail: owner,
		Raw:           payload,
	}, nil
}

// Synthetic adopter addresses used by test-mode events.
const (
	TestTriggerAdopter = "test@example.com"
	ForcedTestAdopter  = "test-adopter@example.com"
)

// TriggerEvent builds the synthetic event for an adoptable animal flagged
// with the test trigger value. The key includes now, so every trigger
// produces a fresh event.
func TriggerEvent(animal types.RawEvent, now time.Time) (*types.AdoptionEvent, error) {
	animalID := lookup(animal, animalIDAliases[:1])
	if animalID == "" {
		return nil, fmt.Errorf("%w: trigger record without ID", ErrMalformedEvent)
	}

	withFlag := make(types.RawEvent, len(animal)+1)
	for k, v := range animal {
		withFlag[k] = v
	}
	withFlag["test_mode"] = true
	payload, err := json.Marshal(withFlag)
	if err != nil {
		return nil, fmt.Errorf("%w: animal %s: %v", ErrMalformedEvent, animalID, err)
	}

	name := lookup(animal, animalNameAliases[:1])
	if name == "" {
		name = "Test Animal"
	}
	species := lookup(animal, speciesAliases[:1])
	if species == "" {
		species = "Dog"
	}

	return &types.AdoptionEvent{
		AdoptionKey:   AdoptionKey("adoption_test", animalID, now.UTC().Format(time.RFC3339Nano), "test"),
		AnimalID:      animalID,
		AnimalName:    name,
		Species:       species,
		AdoptionDate:  now.UTC(),
		NewOwnerEmail: TestTriggerAdopter,
		Raw:           payload,
	}, nil
}

// hasField reports whether raw carries a non-empty value at key.
func hasField(raw json.RawMessage, key string) bool {
	if len(raw) == 0 {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return scalarString(m[key]) != ""
}
