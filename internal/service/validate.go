package service

import (
	"strings"
	"unicode/utf8"
)

// MaxFieldLength bounds filename, lobby_name and uploader.
const MaxFieldLength = 255

const pdfSuffix = ".pdf"

// ValidateFileExtension rejects any upload whose name does not end in ".pdf".
// The check is case-sensitive.
func ValidateFileExtension(name string) error {
	if !strings.HasSuffix(name, pdfSuffix) {
		return &ValidationError{Field: "file", Message: "Only PDF files are allowed."}
	}
	return nil
}

func validateLength(field, value string) error {
	if utf8.RuneCountInString(value) > MaxFieldLength {
		return &ValidationError{Field: field, Message: "Ensure this field has no more than 255 characters."}
	}
	return nil
}

// ValidateMetadata checks the free-text attributes of a document.
func ValidateMetadata(filename, lobbyName, uploader string) error {
	if err := validateLength("filename", filename); err != nil {
		return err
	}
	if err := validateLength("lobby_name", lobbyName); err != nil {
		return err
	}
	return validateLength("uploader", uploader)
}
