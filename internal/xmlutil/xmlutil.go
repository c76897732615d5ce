// Package xmlutil defines the S3 XML response documents and a small helper
// for rendering them.
package xmlutil

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

// InitiateMultipartUploadResult is the response body of
// CreateMultipartUpload.
type InitiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

// CompleteMultipartUploadResult is the response body of
// CompleteMultipartUpload.
type CompleteMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

// Write marshals doc and writes it with the XML declaration, the
// application/xml content type, and the given status code.
func Write(w http.ResponseWriter, status int, doc any) error {
	body, err := xml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling XML response: %w", err)
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
