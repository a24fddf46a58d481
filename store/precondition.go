package store

import "fmt"

// revisionOf returns the document's revision if it carries a usable one.
func revisionOf(doc *Document, revField string) (Value, bool) {
	v, ok := doc.Get(revField)
	if !ok || v.isEmpty() {
		return Value{}, false
	}
	return v, true
}

// buildPrecondition returns the condition expression guarding a write of
// kind on doc, or "" when the write is unconditional.
//
//	Create          attribute_not_exists(pk)
//	Replace, Update revision = :rev, else attribute_exists(pk)
//	Put, Delete     revision = :rev, else unconditional
//	Get             unconditional
func buildPrecondition(kind ActionKind, doc *Document, partitionKey, revField string, b *exprBuilder) (string, error) {
	switch kind {
	case Create:
		return fmt.Sprintf("attribute_not_exists(%s)", b.name(partitionKey)), nil
	case Replace, Update:
		if rev, ok := revisionOf(doc, revField); ok {
			return revisionCondition(rev, revField, b)
		}
		return fmt.Sprintf("attribute_exists(%s)", b.name(partitionKey)), nil
	case Put, Delete:
		if rev, ok := revisionOf(doc, revField); ok {
			return revisionCondition(rev, revField, b)
		}
		return "", nil
	}
	return "", nil
}

func revisionCondition(rev Value, revField string, b *exprBuilder) (string, error) {
	ph, err := b.value(rev)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s", b.name(revField), ph), nil
}
