package registry

// builtin is the catalog of SPID production IdPs, plus the AgID validator
// and the spid-testenv2 local environment. Endpoint URLs come from the
// published federation metadata of each provider.
var builtin = []Descriptor{
	{
		Key:         "posteid",
		EntityID:    "https://posteid.poste.it",
		EntryPoint:  "https://posteid.poste.it/jod-fs/ssoservicepost",
		LogoutURL:   "https://posteid.poste.it/jod-fs/sloservicepost",
		DisplayName: "Poste ID",
	},
	{
		Key:         "arubaid",
		EntityID:    "https://loginspid.aruba.it",
		EntryPoint:  "https://loginspid.aruba.it/ServiceLoginWelcome",
		LogoutURL:   "https://loginspid.aruba.it/ServiceLogoutRequest",
		DisplayName: "Aruba ID",
	},
	{
		Key:         "infocertid",
		EntityID:    "https://identity.infocert.it",
		EntryPoint:  "https://identity.infocert.it/spid/samlsso",
		LogoutURL:   "https://identity.infocert.it/spid/samlslo",
		DisplayName: "InfoCert ID",
	},
	{
		Key:         "intesaid",
		EntityID:    "https://spid.intesa.it",
		EntryPoint:  "https://spid.intesa.it/webservices/idp/sso",
		LogoutURL:   "https://spid.intesa.it/webservices/idp/slo",
		DisplayName: "Intesa ID",
	},
	{
		Key:         "namirialid",
		EntityID:    "https://idp.namirialtsp.com/idp",
		EntryPoint:  "https://idp.namirialtsp.com/idp/profile/SAML2/Redirect/SSO",
		LogoutURL:   "https://idp.namirialtsp.com/idp/profile/SAML2/Redirect/SLO",
		DisplayName: "Namirial ID",
	},
	{
		Key:         "registerit",
		EntityID:    "https://spid.register.it",
		EntryPoint:  "https://spid.register.it/sso",
		LogoutURL:   "https://spid.register.it/slo",
		DisplayName: "SpidItalia Register.it",
	},
	{
		Key:         "sielteid",
		EntityID:    "https://identity.sieltecloud.it",
		EntryPoint:  "https://identity.sieltecloud.it/simplesaml/saml2/idp/SSOService.php",
		LogoutURL:   "https://identity.sieltecloud.it/simplesaml/saml2/idp/SingleLogoutService.php",
		DisplayName: "Sielte ID",
	},
	{
		Key:         "timid",
		EntityID:    "https://login.id.tim.it/affwebservices/public/saml2sso",
		EntryPoint:  "https://login.id.tim.it/affwebservices/public/saml2sso",
		LogoutURL:   "https://login.id.tim.it/affwebservices/public/saml2slo",
		DisplayName: "TIM ID",
	},
	{
		Key:         "lepidaid",
		EntityID:    "https://id.lepida.it/idp/shibboleth",
		EntryPoint:  "https://id.lepida.it/idp/profile/SAML2/Redirect/SSO",
		LogoutURL:   "https://id.lepida.it/idp/profile/SAML2/Redirect/SLO",
		DisplayName: "Lepida ID",
	},
	{
		Key:         "validator",
		EntityID:    "https://validator.spid.gov.it",
		EntryPoint:  "https://validator.spid.gov.it/samlsso",
		DisplayName: "AgID Validator",
	},
	{
		Key:         "demo",
		EntityID:    "https://spid-testenv2:8088",
		EntryPoint:  "https://spid-testenv2:8088/sso",
		DisplayName: "Demo Locale",
	},
}
