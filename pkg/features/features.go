// Package features declares the fixed set of marketplace feature flags, their
// compiled-in defaults and the hand-authored prerequisite table.
package features

import "strings"

type Feature string

const (
	Auth          Feature = "AUTH"
	Listings      Feature = "LISTINGS"
	CreateListing Feature = "CREATE_LISTING"
	Chat          Feature = "CHAT"
	Payments      Feature = "PAYMENTS"
	Transport     Feature = "TRANSPORT"
	Notifications Feature = "NOTIFICATIONS"
	Admin         Feature = "ADMIN"
	Maps          Feature = "MAPS"
	ImagePicker   Feature = "IMAGE_PICKER"
	Firebase      Feature = "FIREBASE"
	Razorpay      Feature = "RAZORPAY"
)

// All lists every known feature in declaration order.
var All = []Feature{
	Auth,
	Listings,
	CreateListing,
	Chat,
	Payments,
	Transport,
	Notifications,
	Admin,
	Maps,
	ImagePicker,
	Firebase,
	Razorpay,
}

var defaults = map[Feature]bool{
	Auth:          true,
	Listings:      true,
	CreateListing: true,
	Chat:          false,
	Payments:      false,
	Transport:     false,
	Notifications: false,
	Admin:         false,
	Maps:          false,
	ImagePicker:   true,
	Firebase:      false,
	Razorpay:      false,
}

// Each entry is the full effective prerequisite set of its feature. The table
// is flat on purpose: lookups never expand it transitively.
var dependencies = map[Feature][]Feature{
	CreateListing: {Auth, Listings, ImagePicker},
	Chat:          {Auth, Firebase},
	Payments:      {Auth, Razorpay},
	Transport:     {Auth, Maps},
	Notifications: {Auth, Firebase},
	Admin:         {Auth},
}

// Defaults returns a fresh copy of the compiled-in default states.
func Defaults() map[Feature]bool {
	out := make(map[Feature]bool, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}

// Dependencies returns a copy of the prerequisite table.
func Dependencies() map[Feature][]Feature {
	out := make(map[Feature][]Feature, len(dependencies))
	for k, v := range dependencies {
		out[k] = append([]Feature(nil), v...)
	}
	return out
}

// Parse maps a user supplied name onto a known feature, ignoring case.
func Parse(name string) (Feature, bool) {
	f := Feature(strings.ToUpper(strings.TrimSpace(name)))
	if _, ok := defaults[f]; !ok {
		return "", false
	}
	return f, true
}

func (f Feature) String() string {
	return string(f)
}
