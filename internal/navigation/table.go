package navigation

import "farmgate/pkg/features"

// DefaultTable is the marketplace destination table in display order.
func DefaultTable() []Destination {
	return []Destination{
		{Name: "SignIn", Screen: "PhoneLoginScreen", Label: "Sign in", Section: SectionAuth},
		{Name: "VerifyOTP", Screen: "OTPVerificationScreen", Label: "Verify code", Section: SectionAuth},
		{Name: "ProfileSetup", Screen: "ProfileSetupScreen", Label: "Set up profile", Section: SectionAuth},
		{Name: "KYC", Screen: "KYCVerificationScreen", Label: "Verify identity", Section: SectionAuth},

		{Name: "Home", Screen: "HomeScreen", Icon: "home", Label: "Home", Section: SectionHome},
		{Name: "Listings", Screen: "ListingsScreen", Icon: "paw", Label: "Browse", Section: SectionHome, Feature: features.Listings},
		{Name: "Chat", Screen: "ChatListScreen", Icon: "chatbubbles", Label: "Messages", Section: SectionHome, Feature: features.Chat},
		{Name: "Transport", Screen: "TransportBookingScreen", Icon: "car", Label: "Transport", Section: SectionHome, Feature: features.Transport},
		{Name: "Notifications", Screen: "NotificationsScreen", Icon: "notifications", Label: "Alerts", Section: SectionHome, Feature: features.Notifications},

		{Name: "SellerDashboard", Screen: "SellerDashboardScreen", Icon: "storefront", Label: "My shop", Section: SectionRole, Feature: features.Listings, Roles: []string{RoleSeller}},
		{Name: "CreateListing", Screen: "CreateListingScreen", Icon: "add-circle", Label: "Sell", Section: SectionRole, Feature: features.CreateListing, Roles: []string{RoleSeller}},
		{Name: "PartnerJobs", Screen: "ServicePartnerJobsScreen", Icon: "briefcase", Label: "Jobs", Section: SectionRole, Roles: []string{RoleServicePartner}},
		{Name: "Payouts", Screen: "PayoutsScreen", Icon: "wallet", Label: "Payouts", Section: SectionRole, Feature: features.Payments, Roles: []string{RoleSeller, RoleServicePartner}},
		{Name: "AdminConsole", Screen: "AdminConsoleScreen", Icon: "shield", Label: "Admin", Section: SectionRole, Feature: features.Admin, Roles: []string{RoleAdmin}},

		{Name: "Orders", Screen: "OrdersScreen", Icon: "receipt", Label: "Orders", Section: SectionBase, Feature: features.Payments},
		{Name: "Profile", Screen: "ProfileScreen", Icon: "person", Label: "Profile", Section: SectionBase},
	}
}
