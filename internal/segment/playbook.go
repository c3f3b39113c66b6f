package segment

import "github.com/opensource-finance/kestrel/internal/domain"

// SegmentPlaybook describes a segment and what marketing should do about it.
type SegmentPlaybook struct {
	Characteristics string
	Actions         []string
}

var playbooks = map[domain.Segment]SegmentPlaybook{
	domain.SegmentChampions: {
		Characteristics: "Bought recently, buy often and spend the most",
		Actions: []string{
			"Reward with a VIP or loyalty tier",
			"Offer early access to new products",
			"Ask for reviews and referrals",
		},
	},
	domain.SegmentLoyal: {
		Characteristics: "Buy regularly and responded to past promotions",
		Actions: []string{
			"Upsell higher value products",
			"Recommend bundles based on purchase history",
			"Enroll in a loyalty program",
		},
	},
	domain.SegmentAtRisk: {
		Characteristics: "Have not purchased for a long time and bought rarely",
		Actions: []string{
			"Send personalized win-back campaigns",
			"Offer a time-limited discount",
			"Survey to learn why they left",
		},
	},
	domain.SegmentHibernating: {
		Characteristics: "Last purchase long ago with low frequency",
		Actions: []string{
			"Reactivate with popular products",
			"Offer free shipping on the next order",
		},
	},
	domain.SegmentRegulars: {
		Characteristics: "Average recency, frequency and spend",
		Actions: []string{
			"Cross-sell complementary products",
			"Encourage a second purchase within 30 days",
		},
	},
}

// Playbook returns the static description of s.
func Playbook(s domain.Segment) SegmentPlaybook {
	return playbooks[s]
}
