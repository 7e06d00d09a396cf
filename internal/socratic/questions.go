package socratic

// Category groups reflective questions by therapeutic focus.
type Category string

const (
	CategoryGeneral       Category = "general"
	CategoryBeliefs       Category = "beliefs"
	CategoryEmotions      Category = "emotions"
	CategoryBehaviors     Category = "behaviors"
	CategoryValues        Category = "values"
	CategoryRelationships Category = "relationships"
)

// emotionKeywords trigger the time-based injection path when they appear in
// the latest user message (substring match, case-insensitive).
var emotionKeywords = []string{
	"sad", "angry", "anxious", "worried", "stressed", "afraid", "scared",
	"lonely", "depressed", "overwhelmed", "frustrated", "hopeless", "guilty",
	"ashamed", "hurt", "tired", "exhausted", "upset",
}

// categoryKeywords map message/topic vocabulary onto question categories.
var categoryKeywords = map[Category][]string{
	CategoryBeliefs: {
		"believe", "think", "assume", "should", "must", "always", "never",
		"true", "wrong", "right", "fail",
	},
	CategoryEmotions: {
		"feel", "feeling", "emotion", "sad", "angry", "anxious", "afraid",
		"happy", "mood", "cry",
	},
	CategoryBehaviors: {
		"do", "did", "avoid", "habit", "routine", "procrastinate", "react",
		"cope", "drink", "sleep",
	},
	CategoryValues: {
		"matter", "important", "value", "meaning", "purpose", "priority",
		"goal", "dream", "want",
	},
	CategoryRelationships: {
		"friend", "family", "partner", "mother", "father", "boss", "coworker",
		"alone", "relationship", "conflict",
	},
}

// questionPools holds each category's reflective questions. Pools stay at ten
// or more entries so the anti-repetition window never exhausts a category in
// normal use.
var questionPools = map[Category][]string{
	CategoryGeneral: {
		"What would you tell a close friend who was in your situation?",
		"What part of this feels most within your control?",
		"If this problem were solved tomorrow, what would be different?",
		"What have you already tried, and what did you learn from it?",
		"What would a smaller first step toward this look like?",
		"When did you first notice this pattern?",
		"What does your gut tell you about this?",
		"What would make today feel slightly better?",
		"Is there another way to look at this situation?",
		"What are you not saying out loud about this?",
	},
	CategoryBeliefs: {
		"What evidence do you have that this belief is true?",
		"Where do you think that belief comes from?",
		"What would happen if that assumption turned out to be wrong?",
		"Is there a less absolute way to phrase that thought?",
		"Would you hold someone else to that same standard?",
		"What does 'should' mean to you in that sentence?",
		"Has this belief ever been challenged by something you experienced?",
		"What belief would serve you better here?",
		"How certain are you of that, from 0 to 100?",
		"What would you need to see to change your mind?",
	},
	CategoryEmotions: {
		"Where in your body do you notice that feeling?",
		"If that emotion could speak, what would it say?",
		"What usually happens right before that feeling shows up?",
		"Is this feeling familiar from another time in your life?",
		"What does that emotion need from you right now?",
		"How long does the feeling usually last once it arrives?",
		"What helps the feeling soften, even a little?",
		"Can two feelings be true at once here? Which ones?",
		"What are you afraid would happen if you let yourself feel it fully?",
		"How would you name this feeling more precisely than 'bad'?",
	},
	CategoryBehaviors: {
		"What do you usually do right after that happens?",
		"What does avoiding it protect you from?",
		"What would doing the opposite look like, just as an experiment?",
		"Which part of your routine supports you, and which part drains you?",
		"What's the smallest version of that habit you could actually keep?",
		"What triggers the behavior you'd like to change?",
		"What did you do differently on the days that went well?",
		"If you watched a recording of your day, what would stand out?",
		"What would you gain by stopping, and what would you lose?",
		"Who could support you in changing this?",
	},
	CategoryValues: {
		"What does this situation tell you about what matters to you?",
		"Which of your values feels stepped on right now?",
		"What would living closer to that value look like this week?",
		"When do you feel most like yourself?",
		"What would you want to be remembered for in this chapter?",
		"If nothing could go wrong, what would you choose?",
		"What are you tolerating that goes against something important to you?",
		"What tradeoff are you actually making here?",
		"What's one thing you'd refuse to give up, no matter what?",
		"How does this goal connect to the life you want?",
	},
	CategoryRelationships: {
		"What do you wish that person understood about you?",
		"What might this look like from their side?",
		"What boundary would protect you in that relationship?",
		"What are you hoping they'll do that you haven't asked for directly?",
		"How do you usually respond when that conflict starts?",
		"What does a good day with that person look like?",
		"What role do you tend to take in this relationship?",
		"What would you say if you knew they'd really listen?",
		"Is there a need of yours going unmet here? Which one?",
		"What keeps you in this relationship, and what wears you down?",
	},
}
