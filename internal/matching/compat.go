package matching

// Compatible reports whether two users mutually satisfy each other's saved
// preferences. All four conditions must hold: each user's age falls inside
// the other's inclusive age range, and each user's gender is allowed by the
// other's preference ("any" disables the gender check on that side only).
func Compatible(mySetting *Setting, me *Person, theirSetting *Setting, them *Person) bool {
	if them.Age < mySetting.AgeMin || them.Age > mySetting.AgeMax {
		return false
	}
	if me.Age < theirSetting.AgeMin || me.Age > theirSetting.AgeMax {
		return false
	}
	if mySetting.PreferredGender != GenderAny && them.Gender != mySetting.PreferredGender {
		return false
	}
	if theirSetting.PreferredGender != GenderAny && me.Gender != theirSetting.PreferredGender {
		return false
	}
	return true
}

// PriceTable maps a preferred gender to the gem price of a successful
// pairing initiated under that preference.
type PriceTable struct {
	Male   int
	Female int
	Any    int
}

// Price returns the gems to debit for a pairing scan run with the given
// preferred gender.
func (p PriceTable) Price(preferredGender string) int {
	switch preferredGender {
	case GenderFemale:
		return p.Female
	case GenderMale:
		return p.Male
	default:
		return p.Any
	}
}
