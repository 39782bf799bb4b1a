package app

// MinPlayersToCreateGame is the smallest table a game can be created for.
const MinPlayersToCreateGame = 2

// profileSearchLimit bounds autocomplete results.
const profileSearchLimit = 10

// cardSaveConcurrency bounds concurrent card writes while building decks.
const cardSaveConcurrency = 16
