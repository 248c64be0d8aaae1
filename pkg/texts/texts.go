// Package texts holds every user-facing message of the bot in one place.
package texts

const (
	SetPassword = "🔐 Придумайте пароль для доступа к личному кабинету (минимум 6 символов):"

	PasswordTooShort = "❌ Пароль должен содержать минимум 6 символов. Попробуйте еще раз:\n\n" + SetPassword

	Welcome = "Привет, %s! 👋\n\nЯ помогу отслеживать твоё настроение и подскажу, как справиться с трудными моментами.\n\nВыбери действие в меню ниже."

	MainMenu = "🧠 Главное меню\n\nВыберите действие:"

	MoodQuestion = "Оцените своё настроение по шкале от 1 до 10:"

	MoodInvalid = "❌ Пожалуйста, выберите цифру от 1 до 10."

	TriggerQuestion = "Что произошло? Опишите ситуацию, которая повлияла на ваше состояние:"

	TriggerTooShort = "❌ Опишите ситуацию чуть подробнее (минимум 2 символа)."

	ThoughtQuestion = "Какая мысль возникла у вас по этому поводу?"

	EntrySaved = "✅ Запись сохранена!\n\nНастроение: %d/10\nСитуация: %s\nМысль: %s"

	Help = "ℹ️ Справка\n\n/track — записать настроение\n/report — отчёт за неделю\n/ai_advice — совет AI-ассистента (1 ⭐ за запрос)\n/donate — пополнить баланс\n/help — эта справка"

	NoWeeklyData = "За последнюю неделю записей нет. Начните с команды /track."

	NoRecentData = "За последние сутки записей нет — совет строится по свежей записи. Сначала запишите настроение через /track."

	WeeklyReportHeader = "📊 Отчёт за неделю\n\nЗаписей: %d\nСреднее настроение: %.2f\nДиапазон: %d – %d"

	AdviceTemplate = "🤖 Совет AI-ассистента (%s)\n\nНастроение: %d/10\nСитуация: %s\nМысль: %s\n\n%s"

	AdviceUnavailable = "😔 Не удалось получить совет от AI-ассистента. Попробуйте позже."

	PaymentRequired = "Недостаточно оплаченных запросов AI, пополните счет"

	InvoiceTitle       = "Оплата за совет AI-ассистента"
	InvoiceDescription = "Один AI-совет за 1 звезду"

	BackFromInvoice = "Чтобы вернуться в меню, нажмите кнопку ниже:"

	InvoiceFailed = "❌ Не удалось создать счет для оплаты. Попробуйте позже."

	PaymentAccepted = "✅ Оплата прошла успешно! Теперь у вас есть доступ к AI-советам."

	GenericFailure = "⚠️ Что-то пошло не так. Попробуйте ещё раз чуть позже."

	UnknownAction = "Неизвестная команда."
)

// Callback acknowledgements shown as transient toasts.
const (
	AckAdvice  = "Анализирую записи и готовлю совет"
	AckPayment = "Открываю оплату"
	AckBack    = "Возвращаюсь назад"
	AckTrack   = "Начинаю запись настроения"
	AckReport  = "Формирую отчёт"
	AckMenu    = "Возвращаюсь в меню"
	AckHelp    = "Открываю справку"
)
