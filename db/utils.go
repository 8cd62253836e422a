package db

import "bytes"

var (
	// NamespaceJournal holds one writer journal entry per extrinsic nonce.
	NamespaceJournal = []byte("wj")
	// NamespaceRelayCursor holds the last relayed source block per channel.
	NamespaceRelayCursor = []byte("rc")
	EmptyKey             = []byte{}
	Separator            = []byte("|")
)

func PrependNamespace(namespace []byte, key []byte) []byte {
	if namespace == nil {
		return key
	}
	prefixed := make([]byte, 0, len(namespace)+len(Separator)+len(key))
	prefixed = append(prefixed, namespace...)
	prefixed = append(prefixed, Separator...)
	return append(prefixed, key...)
}

// StripNamespace removes the namespace prefix added by PrependNamespace.
func StripNamespace(namespace []byte, key []byte) []byte {
	if namespace == nil {
		return key
	}
	return bytes.TrimPrefix(key, PrependNamespace(namespace, nil))
}

// NamespaceEnd returns the smallest key above every key in namespace, or nil
// for the root namespace.
func NamespaceEnd(namespace []byte) []byte {
	if namespace == nil {
		return nil
	}
	prefix := PrependNamespace(namespace, nil)
	end := make([]byte, len(prefix))
	copy(end, prefix)
	end[len(end)-1]++
	return end
}

func ConvNilToBytes(byteArray []byte) []byte {
	if byteArray == nil {
		return []byte{}
	}
	return byteArray
}
