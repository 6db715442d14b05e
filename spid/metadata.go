package spid

import (
	"encoding/xml"
	"net/url"

	"github.com/beevik/etree"
	"github.com/crewjam/saml"
	"github.com/pkg/errors"
)

// RenderMetadata produces the SP metadata document for a profile. For
// profiles carrying an Organization block (the validator profile always
// does) the document is post-processed so the Organization and technical
// ContactPerson elements are guaranteed present even when the generator
// omits them.
func RenderMetadata(profile *Profile) ([]byte, error) {
	if err := profile.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating profile")
	}

	acsURL, _ := url.Parse(profile.CallbackURL)
	metadataURL := url.URL{Scheme: acsURL.Scheme, Host: acsURL.Host, Path: "/metadata"}

	sp := &saml.ServiceProvider{
		EntityID:          profile.Issuer,
		Key:               profile.Keys.Key,
		Certificate:       profile.Keys.Certificate,
		AcsURL:            *acsURL,
		MetadataURL:       metadataURL,
		AuthnNameIDFormat: saml.TransientNameIDFormat,
		SignatureMethod:   signatureMethods[profile.SignatureAlgorithm],
	}

	doc, err := xml.MarshalIndent(sp.Metadata(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "serializing metadata")
	}

	if profile.Organization != nil && profile.Contact != nil {
		doc, err = ensureOrganization(doc, *profile.Organization, *profile.Contact)
		if err != nil {
			return nil, errors.Wrap(err, "ensuring organization block")
		}
	}

	return append([]byte(xml.Header), doc...), nil
}

// ensureOrganization inserts the Organization and technical ContactPerson
// elements directly after the SPSSODescriptor element, iff the document
// contains no Organization element anywhere. A document that already carries
// one is returned unchanged, byte for byte.
func ensureOrganization(doc []byte, org Organization, contact TechnicalContact) ([]byte, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(doc); err != nil {
		return nil, errors.Wrap(err, "parsing metadata document")
	}

	if len(tree.FindElements("//Organization")) > 0 {
		return doc, nil
	}

	root := tree.Root()
	if root == nil {
		return nil, errors.New("metadata document has no root element")
	}

	descriptorIdx := -1
	for i, child := range root.Child {
		if el, ok := child.(*etree.Element); ok && el.Tag == "SPSSODescriptor" {
			descriptorIdx = i
		}
	}
	if descriptorIdx < 0 {
		return nil, errors.New("metadata document has no SPSSODescriptor element")
	}

	orgEl := etree.NewElement("Organization")
	for _, c := range []struct{ tag, text string }{
		{"OrganizationName", org.Name},
		{"OrganizationDisplayName", org.DisplayName},
		{"OrganizationURL", org.URL},
	} {
		el := orgEl.CreateElement(c.tag)
		el.CreateAttr("xml:lang", "it")
		el.SetText(c.text)
	}

	contactEl := etree.NewElement("ContactPerson")
	contactEl.CreateAttr("contactType", "technical")
	contactEl.CreateElement("Company").SetText(contact.Company)
	contactEl.CreateElement("GivenName").SetText(contact.GivenName)
	contactEl.CreateElement("SurName").SetText(contact.Surname)
	contactEl.CreateElement("EmailAddress").SetText(contact.Email)

	root.InsertChildAt(descriptorIdx+1, orgEl)
	root.InsertChildAt(descriptorIdx+2, contactEl)

	return tree.WriteToBytes()
}
