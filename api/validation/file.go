package validation

import (
	"bytes"
	"path/filepath"
	"strings"
)

type FileType string

const (
	FileTypeWAV  FileType = "wav"
	FileTypeMP3  FileType = "mp3"
	FileTypeFLAC FileType = "flac"
	FileTypeOGG  FileType = "ogg"
	FileTypeMP4  FileType = "mp4"
	FileTypeWebM FileType = "webm"
	FileTypeAAC  FileType = "aac"
)

// SniffLen is how many leading bytes DetectFileType looks at.
const SniffLen = 512

var magicBytes = []struct {
	fileType FileType
	offset   int
	sig      []byte
}{
	{FileTypeWAV, 8, []byte("WAVE")},
	{FileTypeMP3, 0, []byte("ID3")},
	{FileTypeFLAC, 0, []byte("fLaC")},
	{FileTypeOGG, 0, []byte("OggS")},
	{FileTypeMP4, 4, []byte("ftyp")},
	{FileTypeWebM, 0, []byte{0x1A, 0x45, 0xDF, 0xA3}},
}

var allowedExtensions = map[string]FileType{
	".wav":  FileTypeWAV,
	".mp3":  FileTypeMP3,
	".flac": FileTypeFLAC,
	".ogg":  FileTypeOGG,
	".oga":  FileTypeOGG,
	".opus": FileTypeOGG,
	".mp4":  FileTypeMP4,
	".m4a":  FileTypeMP4,
	".mov":  FileTypeMP4,
	".webm": FileTypeWebM,
	".mkv":  FileTypeWebM,
	".aac":  FileTypeAAC,
	".mpeg": FileTypeMP3,
	".mpga": FileTypeMP3,
}

// DetectFileType identifies a container from its leading bytes. Raw MPEG audio
// and ADTS AAC have no magic string and are matched on their frame sync.
func DetectFileType(head []byte) (FileType, bool) {
	for _, m := range magicBytes {
		if len(head) >= m.offset+len(m.sig) && bytes.Equal(head[m.offset:m.offset+len(m.sig)], m.sig) {
			if m.fileType == FileTypeWAV && !bytes.HasPrefix(head, []byte("RIFF")) {
				continue
			}
			return m.fileType, true
		}
	}

	if len(head) >= 2 && head[0] == 0xFF {
		switch {
		case head[1]&0xF6 == 0xF0:
			return FileTypeAAC, true
		case head[1]&0xE0 == 0xE0:
			return FileTypeMP3, true
		}
	}

	return "", false
}

// FileTypeFromName maps a file extension to a supported type.
func FileTypeFromName(filename string) (FileType, bool) {
	ft, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ft, ok
}

// ValidateAudio accepts content whose bytes identify a supported container,
// or, failing that, whose name carries a supported extension.
func ValidateAudio(filename string, head []byte) (FileType, error) {
	if len(head) == 0 {
		return "", ErrEmptyFile
	}
	if ft, ok := DetectFileType(head); ok {
		return ft, nil
	}
	if ft, ok := FileTypeFromName(filename); ok {
		return ft, nil
	}
	return "", ErrUnsupportedFormat
}

// SanitizeFilename strips directories from a client supplied name.
func SanitizeFilename(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
