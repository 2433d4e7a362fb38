package loader

import (
	"strings"

	"farmgate/pkg/features"
)

// DefaultBundles lists the bundles shipped for each marketplace feature.
// Features without an entry have nothing to load.
func DefaultBundles() map[string][]string {
	return map[string][]string{
		string(features.Listings):      {"listings/browse.js", "listings/detail.js"},
		string(features.CreateListing): {"listings/create.js", "media/upload.js"},
		string(features.Chat):          {"chat/inbox.js", "chat/thread.js"},
		string(features.Payments):      {"payments/checkout.js", "payments/razorpay.js"},
		string(features.Transport):     {"transport/booking.js", "maps/route.js"},
		string(features.Notifications): {"notifications/center.js"},
		string(features.Admin):         {"admin/console.js"},
		string(features.Maps):          {"maps/core.js"},
		string(features.ImagePicker):   {"media/picker.js"},
	}
}

func featureKey(name string) features.Feature {
	if f, ok := features.Parse(name); ok {
		return f
	}
	return features.Feature(strings.ToUpper(name))
}
