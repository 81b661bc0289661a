package payload

import "bytes"

// SignatureWindow is how many leading bytes are searched for a signature.
// Vendor images often prepend a short header before the real image.
const SignatureWindow = 64

// Signature is a byte pattern identifying a firmware image type.
type Signature struct {
	Name  string
	Magic []byte
}

// FirmwareSignatures lists the image types recognised by the signature check.
var FirmwareSignatures = []Signature{
	{Name: "uimage", Magic: []byte{0x27, 0x05, 0x19, 0x56}},
	{Name: "trx", Magic: []byte("HDR0")},
	{Name: "squashfs", Magic: []byte("hsqs")},
	{Name: "squashfs-be", Magic: []byte("sqsh")},
	{Name: "elf", Magic: []byte{0x7F, 'E', 'L', 'F'}},
	{Name: "android-boot", Magic: []byte("ANDROID!")},
	{Name: "dtb", Magic: []byte{0xD0, 0x0D, 0xFE, 0xED}},
	{Name: "gzip", Magic: []byte{0x1F, 0x8B, 0x08}},
}

// MatchSignature returns the name of the first signature found anywhere in
// head, searching at most SignatureWindow bytes.
func MatchSignature(head []byte, signatures []Signature) (string, bool) {
	if len(head) > SignatureWindow {
		head = head[:SignatureWindow]
	}
	for _, sig := range signatures {
		if bytes.Contains(head, sig.Magic) {
			return sig.Name, true
		}
	}
	return "", false
}
