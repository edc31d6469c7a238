package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequirePublicBucketNeverNeedsUser(t *testing.T) {
	assert.True(t, Require(false, "a/main.x", NoneRestricted, nil),
		"expected public-bucket, non-restricted-name read to be allowed without a user predicate")
}

func TestRequireRestrictedBucketNeedsUser(t *testing.T) {
	assert.False(t, Require(true, "b/main.x", NoneRestricted, Deny),
		"expected restricted-bucket read to be denied when user predicate denies")
	assert.True(t, Require(true, "b/main.x", NoneRestricted, Allow),
		"expected restricted-bucket read to be allowed when user predicate allows")
}

func TestRequireAlwaysRestrictedNameOverridesPublicBucket(t *testing.T) {
	alwaysRestricted := func(name string) bool { return name == "pot/POTCAR" }
	assert.False(t, Require(false, "pot/POTCAR", alwaysRestricted, Deny),
		"expected always-restricted name to require the user predicate even in the public bucket")
	assert.True(t, Require(false, "pot/POTCAR", alwaysRestricted, Allow),
		"expected always-restricted name to be readable once the user predicate allows")
	assert.True(t, Require(false, "pot/POTCAR.stripped", alwaysRestricted, Deny),
		"expected a name not matched by always-restricted to stay public")
}

func TestRequireNilUserPredicateDeniesRestricted(t *testing.T) {
	assert.False(t, Require(true, "b/main.x", NoneRestricted, nil),
		"expected a nil user predicate to deny a restricted-bucket read")
}
