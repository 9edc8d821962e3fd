package activity

// Client identifiers with tracked activity
const (
	ClientPictime      = "pictime"
	ClientPictalk      = "pictalk"
	ClientMaker        = "maker"
	ClientPictranslate = "pictranslate"
)

// Profile lists the CRM fields holding one client's activity. Empty field
// names mean the client does not track that metric.
type Profile struct {
	ClientID            string
	LastLoginField      string
	LoginCountField     string
	LoginFrequencyField string
	CreatedField        string
}

// TracksEngagement reports whether login count and frequency are kept
func (p Profile) TracksEngagement() bool {
	return p.LoginCountField != "" && p.LoginFrequencyField != ""
}

// Fields returns the non-empty CRM fields of the profile
func (p Profile) Fields() []string {
	var out []string
	for _, f := range []string{p.LastLoginField, p.LoginCountField, p.LoginFrequencyField, p.CreatedField} {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Profiles maps client identifiers to their field profile
type Profiles map[string]Profile

// DefaultProfiles returns the field map of the known client applications
func DefaultProfiles() Profiles {
	return Profiles{
		ClientPictime: {
			ClientID:            ClientPictime,
			LastLoginField:      "x_studio_dernire_connexion_agenda",
			LoginCountField:     "x_studio_nombre_de_connexions_agenda",
			LoginFrequencyField: "x_studio_frquence_de_connexion_agenda",
			CreatedField:        "x_studio_cration_du_compte_keycloak",
		},
		ClientPictalk: {
			ClientID:            ClientPictalk,
			LastLoginField:      "x_studio_dernire_connexion_pictalk",
			LoginCountField:     "x_studio_nombre_de_connexions_pictalk",
			LoginFrequencyField: "x_studio_frquence_de_connexion_pictalk",
			CreatedField:        "x_studio_cration_du_compte_pictalk",
		},
		ClientMaker: {
			ClientID:       ClientMaker,
			LastLoginField: "x_studio_lastlogin_creator",
		},
		ClientPictranslate: {
			ClientID:       ClientPictranslate,
			LastLoginField: "x_studio_lastlogin_pictranslate",
		},
	}
}

// Lookup returns the profile for a client. ok is false for clients without
// tracked activity, which then only receive identity fields.
func (p Profiles) Lookup(clientID string) (Profile, bool) {
	if clientID == "" {
		return Profile{}, false
	}
	profile, ok := p[clientID]
	return profile, ok
}
